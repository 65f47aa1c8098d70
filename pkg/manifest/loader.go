package manifest

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/chazu/ordinal/pkg/metrics"
)

// Format is a manifest encoding
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath derives the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: cannot infer format of %q", ErrInvalid, path)
	}
}

// Loader fetches, decodes and validates manifests. Decoded manifests are
// cached by content, so loading the same document twice only decodes once.
type Loader struct {
	// cueMu guards cueCtx, which is not safe for concurrent use
	cueMu  sync.Mutex
	cueCtx *cue.Context

	cache    *Cache
	fetchers map[string]Fetcher
}

// LoaderConfig configures the remote fetchers of a Loader
type LoaderConfig struct {
	// CacheDir enables a persistent cache of remote documents
	CacheDir string

	// Credentials authenticate git and oci fetches
	Credentials *Credentials

	// HTTPClient is used for registry requests
	HTTPClient *http.Client

	// PlainHTTP talks to OCI registries over http
	PlainHTTP bool
}

// NewLoader creates a loader with the file, inline, embedded, git and oci
// fetchers. Remote documents are not cached on disk.
func NewLoader() *Loader {
	l, _ := NewLoaderWithConfig(LoaderConfig{})
	return l
}

// NewLoaderWithConfig creates a loader with every fetcher configured from config
func NewLoaderWithConfig(config LoaderConfig) (*Loader, error) {
	var diskCache *DiskCache
	if config.CacheDir != "" {
		var err error
		diskCache, err = NewDiskCache(config.CacheDir)
		if err != nil {
			return nil, err
		}
	}

	l := &Loader{
		cueCtx:   cuecontext.New(),
		cache:    NewCache(),
		fetchers: make(map[string]Fetcher),
	}
	l.RegisterFetcher(NewFileFetcher())
	l.RegisterFetcher(NewInlineFetcher())
	l.RegisterFetcher(NewEmbeddedFetcher())
	l.RegisterFetcher(NewGitFetcher(diskCache, config.Credentials))
	l.RegisterFetcher(NewOCIFetcher(OCIConfig{
		Cache:       diskCache,
		Credentials: config.Credentials,
		Client:      config.HTTPClient,
		PlainHTTP:   config.PlainHTTP,
	}))
	return l, nil
}

// RegisterFetcher adds or replaces the fetcher for f.Type()
func (l *Loader) RegisterFetcher(f Fetcher) {
	l.fetchers[f.Type()] = f
}

// Cache returns the cache of decoded manifests
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Load fetches ref from the named source and decodes it. An empty format is
// inferred from the fetched source name.
func (l *Loader) Load(ctx context.Context, source, ref string, format Format) (*Manifest, error) {
	fetcher, ok := l.fetchers[source]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported source type %q", ErrNotFound, source)
	}

	start := time.Now()
	result, err := fetcher.Fetch(ctx, ref)
	metrics.RecordFetch(source, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format, err = FormatFromPath(result.Source)
		if err != nil {
			return nil, err
		}
	}

	logr.FromContextOrDiscard(ctx).V(1).Info("Fetched manifest",
		"source", result.Source, "digest", result.Digest, "format", format)

	return l.LoadBytes(result.Source, result.Content, format)
}

// LoadFile loads the manifest at path, choosing the format by extension
func (l *Loader) LoadFile(ctx context.Context, path string) (*Manifest, error) {
	return l.Load(ctx, "file", path, "")
}

// LoadGit loads a manifest file from a Git repository
func (l *Loader) LoadGit(ctx context.Context, ref string) (*Manifest, error) {
	return l.Load(ctx, "git", ref, "")
}

// LoadOCI loads a manifest stored as an OCI artifact
func (l *Loader) LoadOCI(ctx context.Context, ref string) (*Manifest, error) {
	return l.Load(ctx, "oci", ref, "")
}

// LoadEmbedded loads a bundled manifest by name
func (l *Loader) LoadEmbedded(ctx context.Context, name string) (*Manifest, error) {
	return l.Load(ctx, "embedded", name, "")
}

// LoadBytes decodes and validates a manifest document. name is only used in
// error messages and CUE positions.
func (l *Loader) LoadBytes(name string, data []byte, format Format) (*Manifest, error) {
	digest := fmt.Sprintf("%s:%x", format, xxhash.Sum64(data))
	if cached, found := l.cache.Get(digest); found {
		metrics.RecordManifestLoad(string(format), "hit")
		return cached, nil
	}

	m, err := l.decode(name, data, format)
	if err != nil {
		metrics.RecordManifestLoad(string(format), "error")
		return nil, err
	}

	metrics.RecordManifestLoad(string(format), "miss")
	l.cache.Set(digest, m)
	return m, nil
}

func (l *Loader) decode(name string, data []byte, format Format) (*Manifest, error) {
	var jsonData []byte
	switch format {
	case FormatCUE:
		var err error
		jsonData, err = l.evaluateCUE(name, data)
		if err != nil {
			return nil, err
		}
	case FormatYAML, FormatJSON:
		jsonData = data
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalid, format)
	}

	// JSON is a subset of YAML, so one strict decoder covers all three formats
	m := &Manifest{}
	if err := yaml.UnmarshalStrict(jsonData, m); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrInvalid, name, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// evaluateCUE compiles a CUE document and exports it as JSON. Definitions and
// hidden fields are dropped by the export, so manifests may declare schemas.
func (l *Loader) evaluateCUE(name string, data []byte) ([]byte, error) {
	l.cueMu.Lock()
	defer l.cueMu.Unlock()

	value := l.cueCtx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to compile %s: %w", ErrInvalid, name, err)
	}

	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: %s is not concrete: %w", ErrInvalid, name, err)
	}

	jsonData, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to export %s: %w", ErrInvalid, name, err)
	}
	return jsonData, nil
}
