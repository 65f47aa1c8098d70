package manifest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLayer struct {
	mediaType string
	title     string
	data      []byte
}

// testRegistry serves a single artifact under test/app:v1
type testRegistry struct {
	server         *httptest.Server
	manifestDigest digest.Digest
	manifest       []byte
	blobs          map[digest.Digest][]byte
	blobRequests   atomic.Int32
	token          string
	corrupt        bool
}

func newTestRegistry(t *testing.T, layers ...testLayer) *testRegistry {
	t.Helper()

	r := &testRegistry{blobs: make(map[digest.Digest][]byte)}
	artifact := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.DescriptorEmptyJSON,
	}
	for _, layer := range layers {
		desc := ocispec.Descriptor{
			MediaType: layer.mediaType,
			Digest:    digest.FromBytes(layer.data),
			Size:      int64(len(layer.data)),
		}
		if layer.title != "" {
			desc.Annotations = map[string]string{ocispec.AnnotationTitle: layer.title}
		}
		artifact.Layers = append(artifact.Layers, desc)
		r.blobs[desc.Digest] = layer.data
	}

	var err error
	r.manifest, err = json.Marshal(artifact)
	require.NoError(t, err)
	r.manifestDigest = digest.FromBytes(r.manifest)

	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)
	return r
}

func (r *testRegistry) serve(w http.ResponseWriter, req *http.Request) {
	if r.token != "" && req.Header.Get("Authorization") != "Bearer "+r.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	endpoint, ok := strings.CutPrefix(req.URL.Path, "/v2/test/app/")
	if !ok {
		http.NotFound(w, req)
		return
	}

	if reference, ok := strings.CutPrefix(endpoint, "manifests/"); ok {
		if reference != "v1" && reference != r.manifestDigest.String() {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		w.Header().Set("Docker-Content-Digest", r.manifestDigest.String())
		_, _ = w.Write(r.manifest)
		return
	}

	if dgst, ok := strings.CutPrefix(endpoint, "blobs/"); ok {
		blob, found := r.blobs[digest.Digest(dgst)]
		if !found {
			http.NotFound(w, req)
			return
		}
		r.blobRequests.Add(1)
		if r.corrupt {
			blob = append([]byte("x"), blob...)
		}
		_, _ = w.Write(blob)
		return
	}

	http.NotFound(w, req)
}

func (r *testRegistry) host() string {
	return strings.TrimPrefix(r.server.URL, "http://")
}

func (r *testRegistry) fetcher(cache *DiskCache, creds *Credentials) *OCIFetcher {
	return NewOCIFetcher(OCIConfig{
		Cache:       cache,
		Credentials: creds,
		Client:      r.server.Client(),
		PlainHTTP:   true,
	})
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for _, name := range []string{"README.md", "manifests/app.json"} {
		content, ok := files[name]
		if !ok {
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestParseOCIRef(t *testing.T) {
	dgst := digest.FromString("m")

	tests := []struct {
		ref     string
		want    OCIRef
		wantErr bool
	}{
		{ref: "ghcr.io/org/app:v1", want: OCIRef{Registry: "ghcr.io", Repository: "org/app", Tag: "v1"}},
		{ref: "ghcr.io/org/app", want: OCIRef{Registry: "ghcr.io", Repository: "org/app", Tag: "latest"}},
		{ref: "localhost:5000/app:dev", want: OCIRef{Registry: "localhost:5000", Repository: "app", Tag: "dev"}},
		{ref: "localhost/app", want: OCIRef{Registry: "localhost", Repository: "app", Tag: "latest"}},
		{ref: "ghcr.io/org/app@" + dgst.String(), want: OCIRef{Registry: "ghcr.io", Repository: "org/app", Digest: dgst}},
		{ref: "ghcr.io/org/app:v1@" + dgst.String(), want: OCIRef{Registry: "ghcr.io", Repository: "org/app", Tag: "v1", Digest: dgst}},
		{ref: "org/app:v1", wantErr: true},
		{ref: "ghcr.io", wantErr: true},
		{ref: "ghcr.io/org/app@sha256:nothex", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := parseOCIRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestAuthHeader(t *testing.T) {
	assert.Empty(t, authHeader(nil))
	assert.Empty(t, authHeader(&Credentials{}))
	assert.Equal(t, "Bearer tok", authHeader(&Credentials{Token: "tok", Username: "ignored"}))
	assert.Equal(t, "Basic dXNlcjpwYXNz", authHeader(&Credentials{Username: "user", Password: "pass"}))
}

func TestOCIFetcher_Fetch(t *testing.T) {
	registry := newTestRegistry(t, testLayer{
		mediaType: MediaTypeManifestYAML,
		title:     "simple.yaml",
		data:      []byte(yamlManifest),
	})
	fetcher := registry.fetcher(nil, nil)
	assert.Equal(t, "oci", fetcher.Type())

	for _, ref := range []string{
		registry.host() + "/test/app:v1",
		registry.host() + "/test/app@" + registry.manifestDigest.String(),
	} {
		t.Run(ref, func(t *testing.T) {
			result, err := fetcher.Fetch(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, yamlManifest, string(result.Content))
			assert.Equal(t, registry.manifestDigest.String(), result.Digest)
			assert.True(t, strings.HasSuffix(result.Source, "/simple.yaml"), result.Source)
		})
	}
}

func TestOCIFetcher_UntitledLayerNamedByMediaType(t *testing.T) {
	registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestCUE, data: []byte(cueManifest)})

	result, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v1")
	require.NoError(t, err)

	format, err := FormatFromPath(result.Source)
	require.NoError(t, err)
	assert.Equal(t, FormatCUE, format)
}

func TestOCIFetcher_TarLayer(t *testing.T) {
	registry := newTestRegistry(t,
		testLayer{mediaType: "application/vnd.example.unrelated", data: []byte("skip me")},
		testLayer{
			mediaType: ocispec.MediaTypeImageLayerGzip,
			data:      tarGz(t, map[string]string{"README.md": "# app", "manifests/app.json": jsonManifest}),
		},
	)

	result, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v1")
	require.NoError(t, err)
	assert.Equal(t, jsonManifest, string(result.Content))
	assert.True(t, strings.HasSuffix(result.Source, "/app.json"), result.Source)
}

func TestOCIFetcher_Errors(t *testing.T) {
	t.Run("unknown tag", func(t *testing.T) {
		registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestYAML, data: []byte(yamlManifest)})
		_, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no manifest layer", func(t *testing.T) {
		registry := newTestRegistry(t, testLayer{mediaType: "application/octet-stream", data: []byte("bin")})
		_, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupt blob", func(t *testing.T) {
		registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestYAML, data: []byte(yamlManifest)})
		registry.corrupt = true
		_, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "digest verification failed")
	})

	t.Run("tar layer without manifest", func(t *testing.T) {
		registry := newTestRegistry(t, testLayer{
			mediaType: ocispec.MediaTypeImageLayerGzip,
			data:      tarGz(t, map[string]string{"README.md": "# app"}),
		})
		_, err := registry.fetcher(nil, nil).Fetch(context.Background(), registry.host()+"/test/app:v1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestOCIFetcher_Credentials(t *testing.T) {
	registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestYAML, data: []byte(yamlManifest)})
	registry.token = "secret"
	ref := registry.host() + "/test/app:v1"

	_, err := registry.fetcher(nil, nil).Fetch(context.Background(), ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = registry.fetcher(nil, &Credentials{Token: "secret"}).Fetch(context.Background(), ref)
	assert.NoError(t, err)
}

func TestOCIFetcher_Cache(t *testing.T) {
	registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestYAML, title: "simple.yaml", data: []byte(yamlManifest)})
	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)
	fetcher := registry.fetcher(cache, nil)
	ref := registry.host() + "/test/app:v1"

	first, err := fetcher.Fetch(context.Background(), ref)
	require.NoError(t, err)
	second, err := fetcher.Fetch(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), registry.blobRequests.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestLoadOCI(t *testing.T) {
	registry := newTestRegistry(t, testLayer{mediaType: MediaTypeManifestCUE, title: "simple.cue", data: []byte(cueManifest)})

	loader, err := NewLoaderWithConfig(LoaderConfig{
		CacheDir:   t.TempDir(),
		HTTPClient: registry.server.Client(),
		PlainHTTP:  true,
	})
	require.NoError(t, err)

	m, err := loader.LoadOCI(context.Background(), registry.host()+"/test/app:v1")
	require.NoError(t, err)
	assert.Equal(t, "simple", m.Name)
	assert.Equal(t, []string{"a", "b"}, m.Expect)
}
