package changelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcusrt/ai-session-export/internal/paths"
)

const (
	changelogDirName = ".changelog"
	entriesFileName  = "entries.jsonl"
	failuresFileName = "failures.jsonl"

	lockTimeout   = 10 * time.Second
	lockPollEvery = 50 * time.Millisecond
)

// Store appends entries and failures under a repository root,
// partitioned by actor slug:
//
//	<root>/.changelog/<actor-slug>/entries.jsonl
//	<root>/.changelog/<actor-slug>/failures.jsonl
//
// Appends are serialized by a lock file per actor directory, so
// concurrent exports from the same machine never interleave lines.
type Store struct {
	Root string
	Log  zerolog.Logger
}

func (s Store) actorDir(actor string) string {
	return filepath.Join(s.Root, changelogDirName, paths.ActorSlug(actor))
}

// EntriesPath returns the actor's entries file location.
func (s Store) EntriesPath(actor string) string {
	return filepath.Join(s.actorDir(actor), entriesFileName)
}

// FailuresPath returns the actor's failures file location.
func (s Store) FailuresPath(actor string) string {
	return filepath.Join(s.actorDir(actor), failuresFileName)
}

// AppendEntry writes one entry line under the actor's lock.
func (s Store) AppendEntry(e Entry) error {
	return s.appendLine(e.Actor, s.EntriesPath(e.Actor), e)
}

// AppendFailure writes one failure line under the actor's lock.
func (s Store) AppendFailure(f FailureRecord) error {
	return s.appendLine(f.Actor, s.FailuresPath(f.Actor), f)
}

func (s Store) appendLine(actor, path string, v any) error {
	dir := s.actorDir(actor)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create changelog dir: %w", err)
	}
	unlock, err := acquireLock(filepath.Join(dir, ".lock"))
	if err != nil {
		return err
	}
	defer unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal changelog record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open changelog file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append changelog record: %w", err)
	}
	return nil
}

// ExistingRunIDs collects run IDs from every actor's entries file plus
// the legacy single-file layout, for dedup across the whole root.
func (s Store) ExistingRunIDs() (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	base := filepath.Join(s.Root, changelogDirName)

	// legacy layout: one shared file before actor partitioning
	for _, legacy := range []string{
		filepath.Join(base, "changelog.jsonl"),
		filepath.Join(base, entriesFileName),
	} {
		if err := collectRunIDs(legacy, ids); err != nil {
			return nil, err
		}
	}

	dirs, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("read changelog root: %w", err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if err := collectRunIDs(filepath.Join(base, d.Name(), entriesFileName), ids); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func collectRunIDs(path string, ids map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open changelog file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec struct {
			RunID string `json:"run_id"`
		}
		if err := json.Unmarshal(line, &rec); err != nil || rec.RunID == "" {
			continue
		}
		ids[rec.RunID] = struct{}{}
	}
	return scanner.Err()
}

// ReadEntries returns the actor's entries in file order, skipping
// malformed lines.
func (s Store) ReadEntries(actor string) ([]Entry, error) {
	f, err := os.Open(s.EntriesPath(actor))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open changelog file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Actors lists the actor slugs present under the changelog root.
func (s Store) Actors() ([]string, error) {
	dirs, err := os.ReadDir(filepath.Join(s.Root, changelogDirName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read changelog root: %w", err)
	}
	var actors []string
	for _, d := range dirs {
		if d.IsDir() {
			actors = append(actors, d.Name())
		}
	}
	return actors, nil
}

// RewriteEntries replaces the actor's entries file, keeping the old
// content as a .bak sibling. Used by the doctor fix pass.
func (s Store) RewriteEntries(actor string, entries []Entry) error {
	dir := s.actorDir(actor)
	unlock, err := acquireLock(filepath.Join(dir, ".lock"))
	if err != nil {
		return err
	}
	defer unlock()

	path := s.EntriesPath(actor)
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("back up changelog file: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open changelog file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal changelog record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write changelog record: %w", err)
		}
	}
	return w.Flush()
}

// acquireLock takes an exclusive lock file, polling until the timeout.
// The lock holder's crash leaves a stale file; older than the timeout
// it is broken.
func acquireLock(path string) (func(), error) {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire changelog lock: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockTimeout {
			os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire changelog lock: timed out after %s", lockTimeout)
		}
		time.Sleep(lockPollEvery)
	}
}
