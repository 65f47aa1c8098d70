package manifest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Layer media types for manifests pushed as OCI artifacts
const (
	MediaTypeManifestCUE  = "application/vnd.ordinal.manifest.v1+cue"
	MediaTypeManifestYAML = "application/vnd.ordinal.manifest.v1+yaml"
	MediaTypeManifestJSON = "application/vnd.ordinal.manifest.v1+json"
)

var manifestMediaTypes = map[string]string{
	MediaTypeManifestCUE:  ".cue",
	MediaTypeManifestYAML: ".yaml",
	MediaTypeManifestJSON: ".json",
}

// OCIConfig configures an OCIFetcher
type OCIConfig struct {
	// Cache stores fetched layers by digest; nil disables caching
	Cache *DiskCache

	// Credentials authenticate registry requests; nil means anonymous
	Credentials *Credentials

	// Client defaults to http.DefaultClient
	Client *http.Client

	// PlainHTTP talks to the registry over http instead of https
	PlainHTTP bool
}

// OCIFetcher reads manifests stored as OCI artifacts
type OCIFetcher struct {
	cache       *DiskCache
	credentials *Credentials
	client      *http.Client
	scheme      string
}

// NewOCIFetcher creates an OCI fetcher
func NewOCIFetcher(config OCIConfig) *OCIFetcher {
	f := &OCIFetcher{
		cache:       config.Cache,
		credentials: config.Credentials,
		client:      config.Client,
		scheme:      "https",
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if config.PlainHTTP {
		f.scheme = "http"
	}
	return f
}

// Type returns the fetcher type
func (f *OCIFetcher) Type() string {
	return "oci"
}

// OCIRef is a parsed OCI artifact reference
type OCIRef struct {
	Registry   string
	Repository string
	Tag        string
	Digest     digest.Digest
}

// Fetch retrieves the manifest document from an OCI artifact.
// ref format: registry/repo:tag or registry/repo@sha256:...
func (f *OCIFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	ociRef, err := parseOCIRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI reference: %w", err)
	}

	artifact, artifactDigest, err := f.fetchArtifact(ctx, ociRef)
	if err != nil {
		return nil, err
	}

	layer, name, err := findManifestLayer(artifact)
	if err != nil {
		return nil, err
	}

	// Untitled tar layers are only named once extracted, so they skip the cache
	cacheKey := "oci:" + layer.Digest.String()
	if f.cache != nil && name != "" {
		if content, err := f.cache.Get(cacheKey); err == nil {
			return ociResult(ociRef, artifactDigest, name, content), nil
		}
	}

	blob, err := f.fetchBlob(ctx, ociRef, layer.Digest)
	if err != nil {
		return nil, err
	}

	content := blob
	if layer.MediaType == ocispec.MediaTypeImageLayerGzip {
		content, name, err = extractManifest(blob, name)
		if err != nil {
			return nil, err
		}
	}

	if f.cache != nil {
		if err := f.cache.Set(cacheKey, content); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "Failed to cache OCI manifest", "ref", ref)
		}
	}

	return ociResult(ociRef, artifactDigest, name, content), nil
}

func ociResult(ociRef *OCIRef, artifactDigest digest.Digest, name string, content []byte) *FetchResult {
	return &FetchResult{
		Content: content,
		Digest:  artifactDigest.String(),
		Source:  fmt.Sprintf("oci://%s/%s@%s/%s", ociRef.Registry, ociRef.Repository, artifactDigest, name),
	}
}

// fetchArtifact retrieves and decodes the OCI image manifest. A digest in the
// reference is verified against the response body.
func (f *OCIFetcher) fetchArtifact(ctx context.Context, ociRef *OCIRef) (*ocispec.Manifest, digest.Digest, error) {
	reference := ociRef.Tag
	if ociRef.Digest != "" {
		reference = ociRef.Digest.String()
	}

	body, header, err := f.get(ctx, ociRef, "manifests/"+reference, ocispec.MediaTypeImageManifest)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch artifact manifest: %w", err)
	}

	dgst := ociRef.Digest
	if dgst == "" {
		dgst, err = digest.Parse(header.Get("Docker-Content-Digest"))
		if err != nil {
			dgst = digest.FromBytes(body)
		}
	}
	if err := verify(dgst, body); err != nil {
		return nil, "", fmt.Errorf("artifact manifest: %w", err)
	}

	var artifact ocispec.Manifest
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, "", fmt.Errorf("failed to decode artifact manifest: %w", err)
	}
	return &artifact, dgst, nil
}

// fetchBlob retrieves a blob and verifies its digest
func (f *OCIFetcher) fetchBlob(ctx context.Context, ociRef *OCIRef, dgst digest.Digest) ([]byte, error) {
	body, _, err := f.get(ctx, ociRef, "blobs/"+dgst.String(), "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer %s: %w", dgst, err)
	}
	if err := verify(dgst, body); err != nil {
		return nil, fmt.Errorf("layer: %w", err)
	}
	return body, nil
}

func (f *OCIFetcher) get(ctx context.Context, ociRef *OCIRef, endpoint, accept string) ([]byte, http.Header, error) {
	url := fmt.Sprintf("%s://%s/v2/%s/%s", f.scheme, ociRef.Registry, ociRef.Repository, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if auth := authHeader(f.credentials); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, resp.Header, nil
	case http.StatusNotFound:
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		return nil, nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func verify(dgst digest.Digest, body []byte) error {
	if err := dgst.Validate(); err != nil {
		return err
	}
	verifier := dgst.Verifier()
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	if !verifier.Verified() {
		return fmt.Errorf("digest verification failed for %s", dgst)
	}
	return nil
}

// findManifestLayer picks the layer holding the manifest document and the
// file name that selects its format. Dedicated media types win over a
// gzipped tar layer.
func findManifestLayer(artifact *ocispec.Manifest) (ocispec.Descriptor, string, error) {
	for _, layer := range artifact.Layers {
		ext, ok := manifestMediaTypes[layer.MediaType]
		if !ok {
			continue
		}
		name := layer.Annotations[ocispec.AnnotationTitle]
		if name == "" || path.Ext(name) == "" {
			name = "manifest" + ext
		}
		return layer, path.Base(name), nil
	}

	for _, layer := range artifact.Layers {
		if layer.MediaType == ocispec.MediaTypeImageLayerGzip {
			name := layer.Annotations[ocispec.AnnotationTitle]
			if name != "" {
				name = path.Base(name)
			}
			return layer, name, nil
		}
	}

	return ocispec.Descriptor{}, "", fmt.Errorf("%w: no manifest layer in artifact", ErrNotFound)
}

// extractManifest returns the first manifest document in a tar.gz layer and
// its base name. When name is set only that file matches.
func extractManifest(blob []byte, name string) ([]byte, string, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open gzip layer: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to read tar layer: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if name != "" && path.Base(header.Name) != name {
			continue
		}
		if _, err := FormatFromPath(header.Name); err != nil {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		return content, path.Base(header.Name), nil
	}

	return nil, "", fmt.Errorf("%w: no manifest document in layer", ErrNotFound)
}

// parseOCIRef parses registry/repo:tag and registry/repo@digest references.
// The registry part must contain a dot or a port, or be localhost.
func parseOCIRef(ref string) (*OCIRef, error) {
	ociRef := &OCIRef{}

	if idx := strings.LastIndex(ref, "@"); idx != -1 {
		dgst, err := digest.Parse(ref[idx+1:])
		if err != nil {
			return nil, fmt.Errorf("invalid digest: %w", err)
		}
		ociRef.Digest = dgst
		ref = ref[:idx]
	}

	if idx := strings.LastIndex(ref, ":"); idx != -1 && !strings.Contains(ref[idx+1:], "/") {
		ociRef.Tag = ref[idx+1:]
		ref = ref[:idx]
	}
	if ociRef.Tag == "" && ociRef.Digest == "" {
		ociRef.Tag = "latest"
	}

	registry, repo, ok := strings.Cut(ref, "/")
	if !ok || repo == "" {
		return nil, fmt.Errorf("reference %q has no repository", ref)
	}
	if !strings.ContainsAny(registry, ".:") && registry != "localhost" {
		return nil, fmt.Errorf("reference %q has no registry host", ref)
	}

	ociRef.Registry = registry
	ociRef.Repository = repo
	return ociRef, nil
}

// authHeader builds the Authorization header for registry requests
func authHeader(creds *Credentials) string {
	switch {
	case creds == nil:
		return ""
	case creds.Token != "":
		return "Bearer " + creds.Token
	case creds.Username != "":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds.Username+":"+creds.Password))
	default:
		return ""
	}
}
