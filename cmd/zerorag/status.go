package zerorag

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerorag/zerorag/pkg/services"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service health",
	Long:  `Initialize all services, probe their backends once and print the health report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		factory := services.NewFactory(cfg)
		defer func() { _ = factory.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snapshot := factory.CheckHealth(ctx)

		fmt.Printf("Overall: %s\n\n", snapshot.Overall)
		for _, name := range []string{
			services.ServiceEmbedding,
			services.ServiceLLM,
			services.ServiceProcessor,
			services.ServiceStore,
			services.ServiceRAG,
			services.ServiceIngest,
			services.ServiceStream,
		} {
			info, ok := snapshot.Services[name]
			if !ok {
				continue
			}
			fmt.Printf("  %-20s %-12s errors=%d init=%.2fs\n",
				name, info.Status, info.ErrorCount, info.InitSeconds)
		}

		if store := factory.Store(); store != nil && store.FallbackMode() {
			fmt.Println("\nVector store is running on the in-memory fallback; Qdrant is unreachable.")
		}

		if alerts := factory.Alerts(); len(alerts) > 0 {
			fmt.Println("\nRecent alerts:")
			for _, alert := range alerts {
				fmt.Printf("  [%s] %s: %s\n", alert.Severity, alert.Service, alert.Message)
			}
		}
		return nil
	},
}
