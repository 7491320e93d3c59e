package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "newspush/pkg/logx"
)

// fileStore appends runs to <prefix>.runs.jsonl and keeps the newest
// success per mode in memory, rebuilt by replaying the file on open.
type fileStore struct {
	mu   sync.Mutex
	runs *os.File
	last map[string]time.Time
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	runsPath := filepath.Join(dir, base) + ".runs.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	last := map[string]time.Time{}
	skipped, err := replayRuns(runsPath, last)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal lines", logx.Int("lines", skipped))
	}

	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("run journal opened", logx.String("path", runsPath), logx.Int("modes", len(last)))
	return &fileStore{runs: f, last: last}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return nil
	}
	err := s.runs.Close()
	s.runs = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		return errors.New("run journal closed")
	}
	if err := json.NewEncoder(s.runs).Encode(r); err != nil {
		return err
	}
	noteSuccess(s.last, r)
	return nil
}

func (s *fileStore) LastSuccess(ctx context.Context, mode string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.last[mode]
	return at, ok, nil
}

func replayRuns(path string, last map[string]time.Time) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var r RunRecord
		if err := json.Unmarshal(line, &r); err != nil {
			skipped++
			continue
		}
		noteSuccess(last, r)
	}
	return skipped, sc.Err()
}

func noteSuccess(last map[string]time.Time, r RunRecord) {
	if !countsAsSuccess(r) {
		return
	}
	if cur, ok := last[r.Mode]; !ok || r.Finished.After(cur) {
		last[r.Mode] = r.Finished
	}
}
