package api

import (
	"fmt"
	"sync"

	"github.com/strato-ml/quantrace/internal/autoquant"
)

// ArtifactStore holds the calibration artifact the server exposes. It is
// safe for concurrent readers and supports reloading from its source file
// while the server is running.
type ArtifactStore struct {
	mu       sync.RWMutex
	path     string
	artifact *autoquant.Artifact
}

// NewArtifactStore wraps an already-loaded artifact. The path may be empty;
// reloading is then unavailable.
func NewArtifactStore(path string, a *autoquant.Artifact) *ArtifactStore {
	return &ArtifactStore{path: path, artifact: a}
}

// OpenArtifactStore loads the artifact at path.
func OpenArtifactStore(path string) (*ArtifactStore, error) {
	a, err := autoquant.LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	return NewArtifactStore(path, a), nil
}

// Artifact returns the current artifact, or nil when none is loaded.
func (s *ArtifactStore) Artifact() *autoquant.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

// Reload re-reads the artifact from its source file.
func (s *ArtifactStore) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("api: artifact store has no source file")
	}
	a, err := autoquant.LoadArtifact(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.artifact = a
	s.mu.Unlock()
	return nil
}
