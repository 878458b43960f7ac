package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/match"
)

func findSourceCmd() *cobra.Command {
	var tool, startStr, endStr, cwd, projectRoot string

	cmd := &cobra.Command{
		Use:   "find-source",
		Short: "Locate the session log file matching a time window",
		Long: `Scan the assistant's log root for session files whose time bounds
best match the given window and print the scored candidates as JSON.
The lowest score wins; a cwd mismatch is reported but never
disqualifying.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			start, end, err := parseWindow(startStr, endStr)
			if err != nil {
				return err
			}
			if cwd == "" {
				cwd, _ = os.Getwd()
			}

			finder := match.Finder{Roots: matchRoots(cfg), Log: newLogger()}
			result, err := finder.FindSource(match.Window{
				Tool:        logline.Tool(tool),
				Cwd:         cwd,
				ProjectRoot: projectRoot,
				Start:       start,
				End:         end,
			})
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Session tool (claude/codex)")
	cmd.Flags().StringVar(&startStr, "start", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&endStr, "end", "", "Window end (RFC 3339)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Session working directory (default: current)")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "Project root when it differs from cwd")
	cmd.MarkFlagRequired("tool")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}
