package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/index"
)

func indexCmd() *cobra.Command {
	var repoDir string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index changelog entries into the local search database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoDir == "" {
				repoDir, _ = os.Getwd()
			}
			cfg, err := config.Load(repoDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := index.OpenDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			store := changelog.Store{Root: repoDir, Log: newLogger()}
			stats, err := index.IndexAll(db, store)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Done. %s\n", stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", "", "Repository holding the changelog (default: current directory)")
	return cmd
}
