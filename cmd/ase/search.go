package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/index"
)

const (
	sColorReset   = "\033[0m"
	sColorBoldRed = "\033[1;31m"
	sColorBlue    = "\033[1;34m"
	sColorGreen   = "\033[1;32m"
	sColorDim     = "\033[2m"
)

func colorizeTool(tool string) string {
	switch tool {
	case "claude":
		return sColorBlue + tool + sColorReset
	case "codex":
		return sColorGreen + tool + sColorReset
	default:
		return tool
	}
}

func colorizeSnippet(snippet string) string {
	snippet = strings.ReplaceAll(snippet, ">>>", sColorBoldRed)
	snippet = strings.ReplaceAll(snippet, "<<<", sColorReset)
	return snippet
}

func searchCmd() *cobra.Command {
	var actor, tool, since, repoDir string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search across indexed changelog entries",
		Long: `Search indexed changelog entries using FTS5. Output is TSV:
  runId, windowStart, actor, tool, summary, snippet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoDir == "" {
				repoDir, _ = os.Getwd()
			}
			cfg, err := config.Load(repoDir)
			if err != nil {
				return err
			}

			db, err := index.OpenDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			// Pick up entries written since the last explicit index run
			store := changelog.Store{Root: repoDir, Log: newLogger()}
			index.IndexAll(db, store)

			results, err := index.Search(db, index.SearchOptions{
				Query: args[0],
				Actor: actor,
				Tool:  tool,
				Since: since,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintln(os.Stderr, "No results found.")
				return nil
			}

			for _, r := range results {
				snippet := strings.ReplaceAll(r.Snippet, "\t", " ")
				snippet = strings.ReplaceAll(snippet, "\n", " ")
				snippet = colorizeSnippet(snippet)
				summary := strings.ReplaceAll(r.Summary, "\t", " ")
				summary = strings.ReplaceAll(summary, "\n", " ")
				fmt.Printf("%s\t%s%s%s\t%s\t%s\t%s\t%s\n",
					r.RunID,
					sColorDim, r.WindowStart, sColorReset,
					r.Actor,
					colorizeTool(r.Tool),
					summary,
					snippet,
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor slug")
	cmd.Flags().StringVar(&tool, "tool", "", "Filter by tool (claude/codex)")
	cmd.Flags().StringVar(&since, "since", "", "Filter entries with window start since date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&repoDir, "repo", "", "Repository holding the changelog (default: current directory)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")

	return cmd
}
