// Package artifacts stores task-produced artifacts: small ones inline in
// the event store's artifacts table, larger ones spilled to a file under a
// configured directory, both tracked with a sha256 and size.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/octoagent/gateway/pkg/ids"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// InlineThreshold is the content size, in bytes, above which Put spills
// content to a file instead of storing it inline in the artifacts row.
const InlineThreshold = 4096

// metadataStore is the subset of *store.Store this package depends on.
type metadataStore interface {
	PutArtifact(ctx context.Context, a taskmodel.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*taskmodel.Artifact, error)
	ListArtifactsForTask(ctx context.Context, taskID string) ([]taskmodel.Artifact, error)
	ArtifactStorageRefs(ctx context.Context) (map[string]bool, error)
}

// Store puts and fetches artifact content, choosing inline-vs-file
// placement by size and recording integrity metadata either way.
type Store struct {
	meta      metadataStore
	dir       string
	threshold int64
}

// New builds a Store that spills large artifact content under dir.
func New(meta metadataStore, dir string) *Store {
	return &Store{meta: meta, dir: dir, threshold: InlineThreshold}
}

// NewWithThreshold builds a Store whose inline/spill cutoff is
// threshold bytes instead of the package default, so deployments can
// tune it via ARTIFACT_INLINE_THRESHOLD.
func NewWithThreshold(meta metadataStore, dir string, threshold int64) *Store {
	if threshold <= 0 {
		threshold = InlineThreshold
	}
	return &Store{meta: meta, dir: dir, threshold: threshold}
}

// Put stores content for a task, either inline (small content) or spilled
// to <dir>/<task_id>/<artifact_id> (content at or above InlineThreshold),
// and writes the resulting metadata row.
func (s *Store) Put(ctx context.Context, taskID, name, description string, content []byte, ts time.Time) (*taskmodel.Artifact, error) {
	sum := sha256.Sum256(content)

	a := taskmodel.Artifact{
		ID:          ids.New(),
		TaskID:      taskID,
		Ts:          ts,
		Name:        name,
		Description: description,
		Size:        int64(len(content)),
		SHA256:      hex.EncodeToString(sum[:]),
		Version:     1,
	}

	if int64(len(content)) >= s.threshold {
		path := s.path(taskID, a.ID)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, fmt.Errorf("write artifact file: %w", err)
		}
		a.StorageRef = path
		a.Parts = []taskmodel.ArtifactPart{{Type: taskmodel.PartFile, URI: &path}}
	} else {
		text := string(content)
		a.Parts = []taskmodel.ArtifactPart{{Type: taskmodel.PartText, Content: &text}}
	}

	if err := s.meta.PutArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Content returns an artifact's raw bytes, reading from the filesystem if
// the artifact was spilled, or from its inline part otherwise.
func (s *Store) Content(ctx context.Context, artifactID string) ([]byte, error) {
	a, err := s.meta.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	if a.StorageRef != "" {
		return os.ReadFile(a.StorageRef)
	}
	for _, part := range a.Parts {
		if part.Content != nil {
			return []byte(*part.Content), nil
		}
	}
	return nil, nil
}

// Get returns artifact metadata without reading its content.
func (s *Store) Get(ctx context.Context, artifactID string) (*taskmodel.Artifact, error) {
	return s.meta.GetArtifact(ctx, artifactID)
}

// ListForTask returns every artifact recorded against a task.
func (s *Store) ListForTask(ctx context.Context, taskID string) ([]taskmodel.Artifact, error) {
	return s.meta.ListArtifactsForTask(ctx, taskID)
}

func (s *Store) path(taskID, artifactID string) string {
	return filepath.Join(s.dir, taskID, artifactID)
}
