package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
)

// FetchResult contains the raw bytes of a manifest and where they came from
type FetchResult struct {
	// Content is the raw manifest document
	Content []byte

	// Digest is a content-addressable identifier for the document
	Digest string

	// Source describes where the manifest was fetched from. Its extension, if
	// any, selects the decoding format when none is given.
	Source string
}

// Fetcher retrieves manifest documents from one kind of source
type Fetcher interface {
	// Fetch retrieves the document identified by ref
	Fetch(ctx context.Context, ref string) (*FetchResult, error)

	// Type returns the source type used to select the fetcher
	Type() string
}

// FileFetcher reads manifests from the local filesystem
type FileFetcher struct{}

// NewFileFetcher creates a new file fetcher
func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

// Type returns the fetcher type
func (f *FileFetcher) Type() string {
	return "file"
}

// Fetch reads the file at path ref
func (f *FileFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	if ref == "" {
		return nil, fmt.Errorf("manifest path is empty")
	}

	content, err := os.ReadFile(ref)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", ref, err)
	}

	return &FetchResult{
		Content: content,
		Digest:  fmt.Sprintf("file:%x", xxhash.Sum64(content)),
		Source:  ref,
	}, nil
}

// Credentials authenticate remote fetches. Token takes precedence over
// Username and Password; SSHKey is only used by the git fetcher.
type Credentials struct {
	Username string
	Password string
	Token    string

	// SSHKey is a PEM-encoded private key
	SSHKey        []byte
	SSHPassphrase string
}
