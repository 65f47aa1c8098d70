package manifest

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// InlineFetcher returns manifest content passed directly as the reference
type InlineFetcher struct{}

// NewInlineFetcher creates a new inline fetcher
func NewInlineFetcher() *InlineFetcher {
	return &InlineFetcher{}
}

// Type returns the fetcher type
func (f *InlineFetcher) Type() string {
	return "inline"
}

// Fetch returns the inline content directly.
// The ref parameter IS the manifest document itself.
func (f *InlineFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	if ref == "" {
		return nil, fmt.Errorf("inline manifest content is empty")
	}

	content := []byte(ref)

	return &FetchResult{
		Content: content,
		Digest:  fmt.Sprintf("inline:%x", xxhash.Sum64(content)),
		Source:  "inline",
	}, nil
}
