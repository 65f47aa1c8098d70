package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/chazu/ordinal/manifests"
)

// embeddedExtensions are tried in order when resolving a manifest name
var embeddedExtensions = []string{".cue", ".yaml", ".yml", ".json"}

// EmbeddedFetcher serves manifests bundled with the binary
type EmbeddedFetcher struct {
	fsys fs.FS
}

// NewEmbeddedFetcher creates a fetcher over the built-in manifests
func NewEmbeddedFetcher() *EmbeddedFetcher {
	return &EmbeddedFetcher{fsys: manifests.FS}
}

// NewEmbeddedFetcherWithFS creates an embedded fetcher over a custom filesystem
func NewEmbeddedFetcherWithFS(fsys fs.FS) *EmbeddedFetcher {
	return &EmbeddedFetcher{fsys: fsys}
}

// Type returns the fetcher type
func (f *EmbeddedFetcher) Type() string {
	return "embedded"
}

// Fetch retrieves a bundled manifest. ref is the manifest name without
// extension (e.g., "diamond").
func (f *EmbeddedFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	if ref == "" {
		return nil, fmt.Errorf("embedded manifest reference is empty")
	}

	for _, ext := range embeddedExtensions {
		name := ref + ext
		content, err := fs.ReadFile(f.fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded manifest %s: %w", name, err)
		}

		return &FetchResult{
			Content: content,
			Digest:  fmt.Sprintf("embedded:%s:%x", ref, xxhash.Sum64(content)),
			Source:  name,
		}, nil
	}

	return nil, fmt.Errorf("%w: embedded manifest %s", ErrNotFound, ref)
}

// List returns the names of the bundled manifests, sorted
func (f *EmbeddedFetcher) List() ([]string, error) {
	entries, err := fs.ReadDir(f.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded manifests: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext := path.Ext(entry.Name())
		for _, known := range embeddedExtensions {
			if ext == known {
				names = append(names, strings.TrimSuffix(entry.Name(), ext))
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
