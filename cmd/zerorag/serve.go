package zerorag

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerorag/zerorag/internal/api"
	"github.com/zerorag/zerorag/pkg/services"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API service",
	Long:  `Start the HTTP API server with query, streaming, ingestion and health endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}

		factory := services.NewFactory(cfg)
		defer func() {
			if err := factory.Close(); err != nil {
				fmt.Printf("Warning: shutdown left services dirty: %v\n", err)
			}
		}()

		snapshot := factory.Snapshot()
		fmt.Printf("Services initialized, overall status: %s\n", snapshot.Overall)
		for name, info := range snapshot.Services {
			fmt.Printf("  %-20s %s\n", name, info.Status)
		}

		monitorCtx, stopMonitor := context.WithCancel(context.Background())
		defer stopMonitor()
		go factory.Run(monitorCtx)

		server := api.NewServer(cfg, factory)
		errCh := make(chan error, 1)
		go func() {
			fmt.Printf("ZeroRAG API listening on http://%s:%d/api\n", cfg.Server.Host, cfg.Server.Port)
			errCh <- server.Start()
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case <-quit:
		}

		fmt.Println("\nShutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		fmt.Println("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host address")
}
