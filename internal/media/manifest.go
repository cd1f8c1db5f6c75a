package media

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

// TempStore persists short-lived files under unique names.
// storage.LocalStorage satisfies it.
type TempStore interface {
	// SaveTemp writes data to a new uniquely named file and returns its path
	// only once the write has completed and the file is closed.
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	// CleanupTemp removes the given files, ignoring ones already gone.
	CleanupTemp(ctx context.Context, paths []string) error
}

// ManifestBuilder writes concat demuxer lists repeating a single source.
type ManifestBuilder struct {
	store TempStore
}

// NewManifestBuilder creates a ManifestBuilder backed by store.
func NewManifestBuilder(store TempStore) *ManifestBuilder {
	return &ManifestBuilder{store: store}
}

// Manifest is a handle to a written concat list. It is owned by the single
// Extend call that built it.
type Manifest struct {
	path    string
	entries int
	store   TempStore

	once       sync.Once
	releaseErr error
}

// Path returns the manifest location on disk.
func (m *Manifest) Path() string {
	return m.path
}

// Entries returns the number of file directives in the manifest.
func (m *Manifest) Entries() int {
	return m.entries
}

// Release deletes the manifest file. Only the first call does any work.
// Cancellation of ctx does not stop the delete.
func (m *Manifest) Release(ctx context.Context) error {
	m.once.Do(func() {
		m.releaseErr = m.store.CleanupTemp(context.WithoutCancel(ctx), []string{m.path})
	})
	return m.releaseErr
}

// Build writes a manifest referencing sourcePath repeatCount times.
func (b *ManifestBuilder) Build(ctx context.Context, sourcePath string, repeatCount int) (*Manifest, error) {
	if repeatCount < 1 {
		return nil, &Error{
			Kind:   KindManifest,
			Op:     "build manifest",
			Path:   sourcePath,
			Detail: fmt.Sprintf("repeat count %d", repeatCount),
			Err:    ErrRepeatLimit,
		}
	}

	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, &Error{Kind: KindManifest, Op: "resolve source path", Path: sourcePath, Err: err}
	}

	path, err := b.store.SaveTemp(ctx, "concat", newManifestReader(absPath, repeatCount))
	if err != nil {
		return nil, &Error{Kind: KindManifest, Op: "write manifest", Path: sourcePath, Err: err}
	}

	return &Manifest{path: path, entries: repeatCount, store: b.store}, nil
}

// manifestReader streams one "file '<path>'" directive per repetition, so
// large repeat counts are never materialized in memory.
type manifestReader struct {
	line      string
	remaining int
	off       int
}

func newManifestReader(absPath string, repeatCount int) *manifestReader {
	return &manifestReader{
		line:      "file '" + escapeConcatPath(absPath) + "'\n",
		remaining: repeatCount,
	}
}

func (r *manifestReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.remaining == 0 {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		c := copy(p[n:], r.line[r.off:])
		n += c
		r.off += c
		if r.off == len(r.line) {
			r.off = 0
			r.remaining--
		}
	}
	return n, nil
}

// escapeConcatPath quotes single quotes the way the concat demuxer expects
// inside a single-quoted string.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
