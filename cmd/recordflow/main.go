// Command recordflow runs the orchestration engine from the terminal: an
// interactive chat loop over one conversation, plus maintenance commands for
// the durable memory tiers.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/recordflow"
	"github.com/hupe1980/recordflow/config"
	"github.com/hupe1980/recordflow/logging"
	"github.com/hupe1980/recordflow/memory/sqlite"
	"github.com/hupe1980/recordflow/model"
	"github.com/hupe1980/recordflow/model/anthropic"
	"github.com/hupe1980/recordflow/model/openai"
	"github.com/hupe1980/recordflow/risk"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "recordflow",
		Short:         "Orchestration engine for personal record assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "recordflow.yaml", "path to the configuration file")

	root.AddCommand(newChatCmd(&configPath))
	root.AddCommand(newPurgeCmd(&configPath))

	return root
}

func newChatCmd(configPath *string) *cobra.Command {
	var (
		userID    string
		subjectID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			return runChat(cmd.Context(), engine, userID, subjectID)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "user identifier")
	cmd.Flags().StringVar(&subjectID, "subject", "", "subject (person) identifier the conversation is about")

	return cmd
}

func newPurgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired working memory from the durable store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := engine.Memory().PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired working memory entries\n", n)

			return nil
		},
	}
}

// buildEngine assembles the engine from configuration. The returned cleanup
// closes the durable store when one is in use.
func buildEngine(cfg *config.Config) (*recordflow.Engine, func(), error) {
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  parseLogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	m, err := buildModel(cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}

	optFns := []func(o *recordflow.Options){
		func(o *recordflow.Options) {
			o.Logger = logger
			o.MaxIterations = cfg.MaxIterations
			o.WorkingMemoryTTL = cfg.WorkingMemoryTTL()
			o.SummaryInterval = cfg.Memory.SummaryInterval
			o.Assessor = risk.NewAssessor(func(ao *risk.AssessorOptions) {
				if len(cfg.Risk.SensitiveKinds) > 0 {
					ao.SensitiveKinds = cfg.Risk.SensitiveKinds
				}
				ao.RecencyThreshold = cfg.RecencyThreshold()
			})
		},
	}

	if cfg.Memory.DatabasePath != "" {
		store, err := sqlite.Open(cfg.Memory.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = store.Close() }

		optFns = append(optFns, func(o *recordflow.Options) {
			o.ConversationStore = store
			o.WorkingMemoryStore = store.WorkingMemoryStore()
		})
	}

	engine, err := recordflow.New(m, optFns...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return engine, cleanup, nil
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Model.Provider {
	case "anthropic", "":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model.APIKey != "" {
				o.APIKey = cfg.Model.APIKey
			}
			if cfg.Model.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model.Model)
			}
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model.APIKey != "" {
				o.APIKey = cfg.Model.APIKey
			}
			if cfg.Model.Model != "" {
				o.Model = cfg.Model.Model
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func runChat(ctx context.Context, engine *recordflow.Engine, userID, subjectID string) error {
	fmt.Println("recordflow chat. Type your request, or \"exit\" to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	conversationID := ""

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		resp := engine.ProcessUserInput(ctx, input, conversationID, userID, subjectID)
		conversationID = resp.ConversationID

		fmt.Println(resp.Message)
	}

	return scanner.Err()
}
