package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/evaluator"
	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/match"
	"github.com/marcusrt/ai-session-export/internal/render"
	"github.com/marcusrt/ai-session-export/internal/runlog"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

func exportCmd() *cobra.Command {
	var tool, startStr, endStr, cwd, projectRoot, outDir, actor, label string
	var noChangelog bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one session window: match, normalize, digest, and summarize",
		Long: `Find the session log for the window, normalize it into loglines,
build a digest, and (unless disabled) append a changelog entry. A
repeated export of the same window is a no-op thanks to run-ID dedup;
an export of a resumed session digests only the delta since the last
run and links the entries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			if cwd == "" {
				cwd, _ = os.Getwd()
			}
			cfg, err := config.Load(cwd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if actor == "" {
				actor = cfg.Actor
			}

			start, end, err := parseWindow(startStr, endStr)
			if err != nil {
				return err
			}

			finder := match.Finder{Roots: matchRoots(cfg), Log: log}
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
			best := result.Best

			if outDir == "" {
				outDir = filepath.Join(cfg.ExportRoot, sessionDirName(best))
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			if err := result.WriteReport(filepath.Join(outDir, sourceMatchFileName)); err != nil {
				return err
			}

			// a resumed session digests only the delta since the last run
			digestStart := start
			continuation := ""
			if last, ok, err := runlog.Last(outDir); err != nil {
				return err
			} else if ok {
				if lastEnd := last.EndTime(); !lastEnd.IsZero() && lastEnd.After(digestStart) {
					digestStart = lastEnd
				}
				continuation = last.ChangelogRunID
			}

			req, lines, stats, err := buildRequest(logline.Tool(tool), actor, outDir, best.Path, digestStart, end, continuation)
			if err != nil {
				return err
			}
			req.Project = cwd
			req.ProjectRoot = projectRoot
			req.Label = label
			req.SourceMatchJSON = filepath.Join(outDir, sourceMatchFileName)
			log.Info().
				Str("source", best.Path).
				Int("lines", stats.Lines).
				Int("skipped", stats.Skipped).
				Msg("session normalized")

			if err := writeLoglines(filepath.Join(outDir, "loglines.jsonl"), lines); err != nil {
				return err
			}
			if err := writeJSON(filepath.Join(outDir, "digest.json"), req.Digest); err != nil {
				return err
			}
			transcript := render.Markdown(lines, render.Options{
				Title: fmt.Sprintf("%s session %s", tool, sessionDirName(best)),
			})
			if err := os.WriteFile(filepath.Join(outDir, "transcript.md"), []byte(transcript), 0o644); err != nil {
				return fmt.Errorf("write transcript: %w", err)
			}

			changelogRunID := ""
			if cfg.ChangelogEnabled && !noChangelog {
				eval, err := evaluator.New(cfg.Evaluator, cfg.EvaluatorModel)
				if err != nil {
					return err
				}
				gen := changelog.Generator{
					Store: changelog.Store{Root: cwd, Log: log},
					Eval:  eval,
					Log:   log,
				}
				outcome, err := gen.Generate(cmd.Context(), req, nil)
				if err != nil {
					return err
				}
				changelogRunID = outcome.RunID
				log.Info().Str("status", string(outcome.Status)).Str("run_id", outcome.RunID).Msg("changelog")
			}

			return runlog.Append(outDir, runlog.Run{
				RunAt:           timeutil.NowISO(),
				Tool:            tool,
				Start:           timeutil.Format(digestStart),
				End:             timeutil.Format(end),
				SourceJSONL:     best.Path,
				SessionID:       best.SessionID,
				ChangelogRunID:  changelogRunID,
				LoglineCount:    len(lines),
				SkippedRecords:  stats.Skipped,
				DigestSizeBytes: req.Digest.Size(),
			})
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Session tool (claude/codex)")
	cmd.Flags().StringVar(&startStr, "start", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&endStr, "end", "", "Window end (RFC 3339)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Session working directory (default: current)")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "Project root when it differs from cwd")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default: export root keyed by session)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded on the changelog entry")
	cmd.Flags().StringVar(&label, "label", "", "Optional title recorded on the changelog entry")
	cmd.Flags().BoolVar(&noChangelog, "no-changelog", false, "Skip changelog generation")
	cmd.MarkFlagRequired("tool")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")

	return cmd
}

// writeLoglines persists every normalized event, not just the digested
// window, so the export stands alone.
func writeLoglines(path string, lines logline.Loglines) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open loglines file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("write logline: %w", err)
		}
	}
	return w.Flush()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
