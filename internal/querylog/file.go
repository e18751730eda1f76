package querylog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tlcharts/internal/domain"
)

var _ Sink = (*FileSink)(nil)

// FileSink appends one JSON object per line
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create query log dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Append(_ context.Context, rec domain.QueryLogRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode query log record: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("query log %s is closed", s.path)
	}
	if _, err = s.f.Write(b); err != nil {
		return fmt.Errorf("write query log: %w", err)
	}
	return nil
}

func (s *FileSink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
