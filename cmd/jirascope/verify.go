package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jirascope/jirascope/internal/jira"
	"github.com/jirascope/jirascope/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify KEY [KEY...]",
	Short: "Fetch the current volatile fields of issues from the live tracker",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := buildJiraClient()
		if err != nil {
			return err
		}

		verifier := &verify.Verifier{
			Live:        jira.NewLive(client),
			Timeout:     cfg.Verify.Timeout,
			Concurrency: cfg.Verify.Concurrency,
		}

		records := verifier.VerifyAll(cmd.Context(), args)
		keys := make([]string, 0, len(records))
		for k := range records {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		failed := 0
		for _, key := range keys {
			rec := records[key]
			if !rec.Verified() {
				failed++
				fmt.Printf("%s: verification failed: %s\n", key, rec.Error)
				continue
			}
			fmt.Printf("%s (fetched %s)\n", key, rec.FetchedAt.Format("15:04:05"))
			fields := make([]string, 0, len(rec.Fields))
			for f := range rec.Fields {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			for _, f := range fields {
				fmt.Printf("  %-14s %s\n", f, rec.Fields[f])
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d issues could not be verified", failed, len(records))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
