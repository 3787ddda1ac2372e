package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jirascope/jirascope/internal/ingest"
	"github.com/jirascope/jirascope/internal/jira"
	"github.com/jirascope/jirascope/internal/types"
)

var (
	ingestJQL   string
	ingestWatch bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [export-dir]",
	Short: "Index a Jira project snapshot",
	Long: `Build the searchable index from Jira issues.

With an export directory argument, issues are read from *.json files in it.
Without one, issues are fetched from the configured Jira instance using
--jql (default: the configured project, ordered by key).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		}

		if ingestWatch && dir == "" {
			return fmt.Errorf("--watch requires an export directory")
		}

		if err := runIngest(cmd.Context(), dir); err != nil {
			return err
		}
		if !ingestWatch {
			return nil
		}
		return watchExports(cmd.Context(), dir)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestJQL, "jql", "", "JQL query selecting issues to ingest")
	ingestCmd.Flags().BoolVar(&ingestWatch, "watch", false, "re-ingest when export files change")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, dir string) error {
	issues, err := loadIssues(ctx, dir)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return fmt.Errorf("no issues to ingest")
	}

	ix, err := buildIndex()
	if err != nil {
		return err
	}

	rules := ingest.DefaultRules()
	if cfg.Classifier.RulesPath != "" {
		rules, err = ingest.LoadRules(cfg.Classifier.RulesPath)
		if err != nil {
			return err
		}
	}
	rules.Threshold = cfg.Classifier.Threshold

	pipeline := &ingest.Pipeline{
		Index:       ix,
		Classifier:  ingest.NewClassifier(rules),
		Concurrency: cfg.Ingest.Concurrency,
	}

	start := time.Now()
	result, err := pipeline.Run(ctx, issues)
	if err != nil {
		return err
	}
	if err := ingest.WriteArtifacts(cfg.Ingest.ArtifactDir, result); err != nil {
		return err
	}

	fmt.Printf("Ingested %d issues: %d chunks, %d dependency edges, %d deployment signals (%.1fs)\n",
		result.Issues, len(result.Chunks), len(result.Edges), len(result.Signals),
		time.Since(start).Seconds())
	return nil
}

func loadIssues(ctx context.Context, dir string) ([]types.Issue, error) {
	if dir != "" {
		return jira.LoadDir(dir)
	}

	client, err := buildJiraClient()
	if err != nil {
		return nil, err
	}

	jql := ingestJQL
	if jql == "" {
		if cfg.Jira.Project == "" {
			return nil, fmt.Errorf("no export directory, --jql, or jira.project configured")
		}
		jql = fmt.Sprintf("project = %s ORDER BY key ASC", cfg.Jira.Project)
	}

	raw, err := client.SearchIssues(ctx, jql)
	if err != nil {
		return nil, err
	}
	issues := make([]types.Issue, 0, len(raw))
	for i := range raw {
		issues = append(issues, jira.Snapshot(&raw[i]))
	}
	return issues, nil
}

// watchExports blocks, re-running ingestion when JSON exports change.
// Events are debounced because editors and export jobs write in bursts.
func watchExports(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", dir)

	const debounce = 2 * time.Second
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := runIngest(ctx, dir); err != nil {
				fmt.Printf("re-ingest failed: %v\n", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("watch error: %v\n", err)
		}
	}
}
