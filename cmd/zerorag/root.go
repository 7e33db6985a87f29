package zerorag

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/log"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version string = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "zerorag",
	Short: "ZeroRAG - self-hosted RAG service",
	Long: `ZeroRAG is a self-hosted retrieval-augmented generation service.
It ingests documents into a Qdrant vector store, answers questions over them
with a local or OpenAI-compatible LLM, and serves an HTTP API with streaming.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if verbose {
			cfg.Logging.Level = "debug"
		}
		log.Setup(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the root cobra command for testing purposes.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetVersion sets the version for the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ZeroRAG version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./zerorag.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(ingestCmd)
	RootCmd.AddCommand(queryCmd)
	RootCmd.AddCommand(statusCmd)
}
