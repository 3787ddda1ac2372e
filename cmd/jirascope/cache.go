package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jirascope/jirascope/internal/attachcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the attachment cache",
}

var cacheFetchCmd = &cobra.Command{
	Use:   "fetch KEY",
	Short: "Download and cache all attachments of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		client, err := buildJiraClient()
		if err != nil {
			return err
		}

		issue, err := client.GetIssue(cmd.Context(), key)
		if err != nil {
			return err
		}
		if len(issue.Fields.Attachment) == 0 {
			fmt.Printf("%s has no attachments\n", key)
			return nil
		}

		cache, err := attachcache.New(cfg.Cache.Dir, client)
		if err != nil {
			return err
		}

		for _, att := range issue.Fields.Attachment {
			entry, err := cache.Fetch(cmd.Context(), key, att.ID)
			if err != nil {
				return fmt.Errorf("fetch %s attachment %s: %w", key, att.Filename, err)
			}
			fmt.Printf("%s  %s (%d bytes) -> %s\n", att.Filename, entry.Hash[:12], entry.Size, entry.Path)
		}
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached attachment entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := attachcache.New(cfg.Cache.Dir, nil)
		if err != nil {
			return err
		}

		entries := cache.Entries()
		var total int64
		for _, e := range entries {
			origin := "(recovered)"
			if e.IssueKey != "" {
				origin = e.IssueKey + "/" + e.AttachmentID
			}
			fmt.Printf("%s  %s  %d bytes\n", e.Hash[:12], origin, e.Size)
			total += e.Size
		}
		fmt.Printf("%d entries, %d bytes in %s\n", len(entries), total, cfg.Cache.Dir)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheFetchCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
