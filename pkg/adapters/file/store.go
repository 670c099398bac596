// Package file archives finished runs as JSON documents on any afs storage
// (local disk by default, or mem://, s3://, gs:// URLs).
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

const ext = ".json"

// Store implements ports.RunStore on top of afs.
type Store struct {
	baseURL string
	fs      afs.Service
	mu      sync.RWMutex
}

// New creates a Store rooted at baseURL.
// If baseURL is empty, it defaults to ".neonflow/runs".
func New(baseURL string) *Store {
	return NewWithFS(afs.New(), baseURL)
}

// NewWithFS creates a Store using the given storage service.
func NewWithFS(fs afs.Service, baseURL string) *Store {
	if baseURL == "" {
		baseURL = filepath.Join(".neonflow", "runs")
	}
	if !strings.Contains(baseURL, "://") && !filepath.IsAbs(baseURL) {
		if abs, err := filepath.Abs(baseURL); err == nil {
			baseURL = abs
		}
	}
	return &Store{baseURL: baseURL, fs: fs}
}

func (s *Store) runURL(runID string) string {
	return url.Join(s.baseURL, runID+ext)
}

// Save writes the record as indented JSON, replacing any previous version.
func (s *Store) Save(ctx context.Context, record *domain.RunRecord) error {
	if record.RunID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.runURL(record.RunID)
	if err := s.fs.Upload(ctx, location, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save run to %s: %w", location, err)
	}
	return nil
}

// Load reads a record.
func (s *Store) Load(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	location := s.runURL(runID)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to check run file: %w", err)
	}
	if !exists {
		return nil, domain.ErrRunNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}
	var rec domain.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &rec, nil
}

// Delete removes a record. Missing records are ignored.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	location := s.runURL(runID)
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return fmt.Errorf("failed to check run file: %w", err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete run file: %w", err)
	}
	return nil
}

// List returns the archived run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.fs.Exists(ctx, s.baseURL)
	if err != nil || !exists {
		return []string{}, nil
	}
	objects, err := s.fs.List(ctx, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		name := path.Base(obj.URL())
		if strings.HasSuffix(name, ext) {
			ids = append(ids, strings.TrimSuffix(name, ext))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
