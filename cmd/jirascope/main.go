// jirascope answers questions about a Jira project from an indexed snapshot,
// verifying anything volatile against the live tracker before reporting it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jirascope/jirascope/internal/config"
	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/index/chroma"
	"github.com/jirascope/jirascope/internal/index/memory"
	"github.com/jirascope/jirascope/internal/jira"
	"github.com/jirascope/jirascope/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jirascope",
	Short: "jirascope - snapshot-grounded Jira assistant with live verification",
	Long: `Ask questions over an indexed snapshot of a Jira project.

Stable content (requirements, dependencies, history) is answered from the
index. Volatile fields (status, assignee, fix versions, deployment) are
re-fetched from the live tracker before they appear in any answer.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if issues := cfg.Validate(); len(issues) > 0 {
			for _, issue := range issues {
				fmt.Fprintf(os.Stderr, "config: %s\n", issue)
			}
			return fmt.Errorf("invalid configuration")
		}
		if err := telemetry.Init(cmd.Context(), "jirascope", Version); err != nil {
			// Telemetry is best effort; the command still runs.
			fmt.Fprintf(os.Stderr, "warning: telemetry init failed: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(cmd.Context())
	},
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("jirascope version %s\n", Version)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .jirascope/config.yaml)")
	rootCmd.Flags().Bool("version", false, "print version and exit")
}

// buildIndex selects the configured index backend.
func buildIndex() (index.Index, error) {
	switch cfg.Index.Backend {
	case "memory":
		return memory.New(), nil
	case "chroma":
		return chroma.New(chroma.Config{
			URL:        cfg.Index.URL,
			Tenant:     cfg.Index.Tenant,
			Database:   cfg.Index.Database,
			Collection: cfg.Index.Collection,
			APIKey:     cfg.Index.APIKey,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

func buildJiraClient() (*jira.Client, error) {
	if cfg.Jira.URL == "" {
		return nil, fmt.Errorf("jira.url is not configured (set JIRASCOPE_JIRA_URL or jira.url)")
	}
	return jira.NewClient(cfg.Jira.URL, cfg.Jira.Username, cfg.Jira.APIToken), nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
