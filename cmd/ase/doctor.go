package main

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/index"
)

func doctorCmd() *cobra.Command {
	var repoDir string
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify roots, changelog files, DB, and FTS5",
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoDir == "" {
				repoDir, _ = os.Getwd()
			}
			cfg, err := config.Load(repoDir)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			fmt.Println("=== Roots ===")
			checkDir("Claude", cfg.ClaudeRoot)
			checkDir("Codex", cfg.CodexRoot)
			checkDir("Exports", cfg.ExportRoot)

			fmt.Println("\n=== Evaluator ===")
			if path, err := exec.LookPath(cfg.Evaluator); err == nil {
				fmt.Printf("  %s: %s (OK)\n", cfg.Evaluator, path)
			} else {
				fmt.Printf("  %s: NOT ON PATH\n", cfg.Evaluator)
			}
			if cfg.EvaluatorModel != "" {
				fmt.Printf("  Model: %s\n", cfg.EvaluatorModel)
			}

			fmt.Println("\n=== Changelog ===")
			store := changelog.Store{Root: repoDir, Log: newLogger()}
			actors, err := store.Actors()
			if err != nil {
				return err
			}
			if len(actors) == 0 {
				fmt.Println("  No changelog yet.")
			}
			for _, actor := range actors {
				entries, err := store.ReadEntries(actor)
				if err != nil {
					fmt.Printf("  %s: read error: %v\n", actor, err)
					continue
				}
				bad := 0
				seen := map[string]struct{}{}
				var kept []changelog.Entry
				for _, e := range entries {
					if _, dup := seen[e.RunID]; dup || !entryValid(e) {
						bad++
						continue
					}
					seen[e.RunID] = struct{}{}
					kept = append(kept, e)
				}
				fmt.Printf("  %s: %d entries, %d invalid or duplicate\n", actor, len(entries), bad)
				if fix && bad > 0 {
					if err := store.RewriteEntries(actor, kept); err != nil {
						return fmt.Errorf("fix %s: %w", actor, err)
					}
					fmt.Printf("  %s: rewrote entries file (backup kept as .bak)\n", actor)
				}
			}

			fmt.Println("\n=== Database ===")
			fmt.Printf("  Path: %s\n", cfg.DBPath)
			if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
				fmt.Println("  Status: NOT FOUND (run 'ase index' first)")
				return nil
			}

			db, err := index.OpenDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			entryCount, err := db.EntryCount()
			if err != nil {
				return fmt.Errorf("count entries: %w", err)
			}
			fmt.Printf("  Entries: %d\n", entryCount)

			fmt.Println("\n=== FTS5 ===")
			var ftsCount int
			err = db.Raw().QueryRow("SELECT COUNT(*) FROM entries_fts").Scan(&ftsCount)
			if err != nil {
				fmt.Printf("  FTS5 error: %v\n", err)
			} else {
				fmt.Printf("  FTS5 entries: %d\n", ftsCount)
				if ftsCount == entryCount {
					fmt.Println("  Status: OK (synced)")
				} else {
					fmt.Printf("  Status: MISMATCH (entries=%d, fts=%d)\n", entryCount, ftsCount)
				}
			}

			if info, err := os.Stat(cfg.DBPath); err == nil {
				sizeMB := float64(info.Size()) / 1024 / 1024
				fmt.Printf("\n=== DB Size: %.1f MB ===\n", sizeMB)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&repoDir, "repo", "", "Repository holding the changelog (default: current directory)")
	cmd.Flags().BoolVar(&fix, "fix", false, "Rewrite changelog files dropping invalid and duplicate entries")
	return cmd
}

var runIDRe = regexp.MustCompile(`^[0-9a-f]{16}$`)

func entryValid(e changelog.Entry) bool {
	if !runIDRe.MatchString(e.RunID) {
		return false
	}
	if strings.TrimSpace(e.Summary) == "" {
		return false
	}
	return len(e.Bullets) >= 1 && len(e.Bullets) <= 12
}

func checkDir(name, path string) {
	if info, err := os.Stat(path); err != nil {
		fmt.Printf("  %s: %s (NOT FOUND)\n", name, path)
	} else if !info.IsDir() {
		fmt.Printf("  %s: %s (NOT A DIRECTORY)\n", name, path)
	} else {
		fmt.Printf("  %s: %s (OK)\n", name, path)
	}
}
