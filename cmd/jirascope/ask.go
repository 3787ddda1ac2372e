package main

import (
	"fmt"
	"os"
	"strings"

	glamour "charm.land/glamour/v2"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jirascope/jirascope/internal/jira"
	"github.com/jirascope/jirascope/internal/llm"
	"github.com/jirascope/jirascope/internal/orchestrator"
	"github.com/jirascope/jirascope/internal/policy"
	"github.com/jirascope/jirascope/internal/retrieve"
	"github.com/jirascope/jirascope/internal/types"
	"github.com/jirascope/jirascope/internal/verify"
)

var askShowSources bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the indexed project",
	Long: `Ask a natural-language question. Stable content is answered from the
index; current status, assignee, fix versions, and deployment state are
verified against the live tracker before appearing in the answer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			if !stdoutIsTerminal() {
				return fmt.Errorf("question required (pass as argument or run interactively)")
			}
			var err error
			question, err = promptQuestion()
			if err != nil {
				return err
			}
		}

		orch, err := buildOrchestrator()
		if err != nil {
			return err
		}

		answer, err := orch.Run(cmd.Context(), question)
		if err != nil {
			return err
		}

		fmt.Print(renderMarkdown(answer.Text))
		if askShowSources {
			fmt.Println(renderSources(answer))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askShowSources, "sources", true, "show the sources and verification panel")
	rootCmd.AddCommand(askCmd)
}

func buildOrchestrator() (*orchestrator.Orchestrator, error) {
	ix, err := buildIndex()
	if err != nil {
		return nil, err
	}
	client, err := buildJiraClient()
	if err != nil {
		return nil, err
	}
	completer, err := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	return &orchestrator.Orchestrator{
		Retriever: &retrieve.Retriever{
			Index:   ix,
			TopK:    cfg.Retrieve.TopK,
			Timeout: cfg.Retrieve.Timeout,
		},
		Enforcer: &policy.Enforcer{},
		Verifier: &verify.Verifier{
			Live:        jira.NewLive(client),
			Timeout:     cfg.Verify.Timeout,
			Concurrency: cfg.Verify.Concurrency,
		},
		Completer:     completer,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
	}, nil
}

func promptQuestion() (string, error) {
	var question string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Question").
				Placeholder("e.g., What is the current status of SCRUM-12?").
				Value(&question).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("question is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(question), nil
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return stdoutIsTerminal() && termenv.ColorProfile() != termenv.Ascii
}

// renderMarkdown renders the answer body, falling back to raw text when the
// output is piped or rendering fails.
func renderMarkdown(markdown string) string {
	if !colorEnabled() {
		return markdown + "\n"
	}

	const maxReadableWidth = 100
	wrapWidth := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		wrapWidth = w
	}
	if wrapWidth > maxReadableWidth {
		wrapWidth = maxReadableWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithEnvironmentConfig(),
		glamour.WithWordWrap(wrapWidth),
	)
	if err != nil {
		return markdown + "\n"
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown + "\n"
	}
	return rendered
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	panelTitleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	liveStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	memoryStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	failStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// renderSources shows where the answer came from: search queries against the
// snapshot, live fetches, and anything that could not be verified.
func renderSources(answer *types.Answer) string {
	var b strings.Builder

	b.WriteString(panelTitleStyle.Render("Sources"))
	b.WriteString("\n")

	for _, q := range answer.Sources.SearchQueries {
		b.WriteString(dimStyle.Render(fmt.Sprintf("search  %q", q)))
		b.WriteString("\n")
	}
	for _, key := range answer.Sources.LiveFetches {
		b.WriteString(liveStyle.Render("live    " + key))
		b.WriteString("\n")
	}
	for _, key := range answer.Sources.Unverified {
		b.WriteString(failStyle.Render("failed  " + key + " (current state unknown)"))
		b.WriteString("\n")
	}

	if len(answer.Facts) > 0 {
		b.WriteString(panelTitleStyle.Render("Verified fields"))
		b.WriteString("\n")
		for _, fact := range answer.Facts {
			line := fmt.Sprintf("%s %s = %s", fact.IssueKey, fact.Field, fact.Value)
			if fact.Note != "" {
				line += " (" + fact.Note + ")"
			}
			switch fact.Provenance {
			case types.ProvenanceLive:
				b.WriteString(liveStyle.Render("live    " + line))
			case types.ProvenanceMemory:
				b.WriteString(memoryStyle.Render("memory  " + line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("tokens: %d prompt + %d completion (%d rounds)",
		answer.Ledger.Prompt, answer.Ledger.Completion, answer.Ledger.Rounds)))

	return panelStyle.Render(strings.TrimRight(b.String(), "\n"))
}
