package zerorag

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/rag"
	"github.com/zerorag/zerorag/pkg/services"
)

var (
	topK        int
	temperature float64
	maxTokens   int
	streamOut   bool
	showSources bool
	interactive bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Query the knowledge base",
	Long: `Perform semantic search over the ingested documents and generate an answer.
You can provide a question as an argument or use interactive mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		factory := services.NewFactory(cfg)
		defer func() { _ = factory.Close() }()

		svc := factory.RAG()
		if svc == nil {
			return fmt.Errorf("RAG pipeline failed to initialize")
		}

		ctx := context.Background()
		if interactive || len(args) == 0 {
			return runInteractive(ctx, svc)
		}

		return runQuery(ctx, svc, strings.Join(args, " "))
	},
}

func runInteractive(ctx context.Context, svc *rag.Service) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("ZeroRAG Interactive Query Mode")
	fmt.Println("Type 'exit' or 'quit' to exit")
	fmt.Println()

	for {
		fmt.Print("zerorag> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil
		}

		if err := runQuery(ctx, svc, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Println()
	}

	return scanner.Err()
}

func runQuery(ctx context.Context, svc *rag.Service, question string) error {
	q := domain.RAGQuery{
		Query:          question,
		TopK:           topK,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		IncludeSources: showSources,
	}

	if streamOut {
		err := svc.QueryStream(ctx, q, func(chunk string) {
			fmt.Print(chunk)
		})
		fmt.Println()
		return err
	}

	resp, err := svc.Query(ctx, q)
	if err != nil {
		return err
	}

	fmt.Println(resp.Answer)
	if showSources && len(resp.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, source := range resp.Sources {
			fmt.Printf("  - %s\n", source)
		}
	}
	return nil
}

func init() {
	queryCmd.Flags().IntVar(&topK, "top-k", 0, "number of chunks to retrieve (0 = config default)")
	queryCmd.Flags().Float64Var(&temperature, "temperature", 0, "generation temperature (0 = config default)")
	queryCmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "generation token limit (0 = config default)")
	queryCmd.Flags().BoolVar(&streamOut, "stream", false, "stream the answer as it is generated")
	queryCmd.Flags().BoolVar(&showSources, "sources", false, "show source attributions")
	queryCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "interactive query mode")
}
