package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-logr/logr"
)

// GitFetcher reads manifests from Git repositories
type GitFetcher struct {
	cache       *DiskCache
	credentials *Credentials
	tempDir     string
}

// NewGitFetcher creates a Git fetcher. cache and credentials may be nil.
func NewGitFetcher(cache *DiskCache, credentials *Credentials) *GitFetcher {
	return &GitFetcher{
		cache:       cache,
		credentials: credentials,
		tempDir:     os.TempDir(),
	}
}

// Type returns the fetcher type
func (f *GitFetcher) Type() string {
	return "git"
}

// GitRef is a parsed Git manifest reference
type GitRef struct {
	URL string

	// Ref is a branch, tag or commit SHA
	Ref string

	// Path is the manifest file within the repository
	Path string
}

// Fetch clones the repository and reads the manifest file named by the
// reference. ref format: https://github.com/org/repo.git?ref=v1.0.0&path=manifests/app.cue
func (f *GitFetcher) Fetch(ctx context.Context, ref string) (*FetchResult, error) {
	gitRef, err := parseGitRef(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid Git reference: %w", err)
	}

	// A pinned commit can be served from cache without cloning
	if isCommitSHA(gitRef.Ref) && len(gitRef.Ref) == 40 {
		if result, ok := f.cached(gitRef, gitRef.Ref); ok {
			return result, nil
		}
	}

	auth, err := gitAuth(f.credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to build Git auth: %w", err)
	}

	tmpDir, err := os.MkdirTemp(f.tempDir, "ordinal-git-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	repo, err := clone(ctx, tmpDir, gitRef, auth)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit := head.Hash().String()

	if result, ok := f.cached(gitRef, commit); ok {
		return result, nil
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, filepath.FromSlash(gitRef.Path)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s@%s", ErrNotFound, gitRef.Path, gitRef.URL, commit[:7])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", gitRef.Path, err)
	}

	if f.cache != nil {
		if err := f.cache.Set(gitCacheKey(gitRef, commit), content); err != nil {
			logr.FromContextOrDiscard(ctx).Error(err, "Failed to cache Git manifest", "url", gitRef.URL)
		}
	}

	return &FetchResult{
		Content: content,
		Digest:  commit,
		Source:  fmt.Sprintf("git://%s@%s/%s", gitRef.URL, commit[:7], gitRef.Path),
	}, nil
}

func (f *GitFetcher) cached(gitRef *GitRef, commit string) (*FetchResult, bool) {
	if f.cache == nil {
		return nil, false
	}
	content, err := f.cache.Get(gitCacheKey(gitRef, commit))
	if err != nil {
		return nil, false
	}
	return &FetchResult{
		Content: content,
		Digest:  commit,
		Source:  fmt.Sprintf("git://%s@%s/%s", gitRef.URL, commit[:7], gitRef.Path),
	}, true
}

func gitCacheKey(gitRef *GitRef, commit string) string {
	return fmt.Sprintf("git:%s:%s:%s", gitRef.URL, commit, gitRef.Path)
}

// clone checks out gitRef into dir. Branches are tried before tags; commit
// SHAs need a full clone.
func clone(ctx context.Context, dir string, gitRef *GitRef, auth transport.AuthMethod) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:      gitRef.URL,
		Auth:     auth,
		Depth:    1,
		Progress: io.Discard,
	}

	pinned := isCommitSHA(gitRef.Ref)
	switch {
	case pinned:
		opts.Depth = 0
	case gitRef.Ref != "":
		opts.ReferenceName = plumbing.NewBranchReferenceName(gitRef.Ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil && gitRef.Ref != "" && !pinned {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, rmErr
		}
		opts.ReferenceName = plumbing.NewTagReferenceName(gitRef.Ref)
		repo, err = git.PlainCloneContext(ctx, dir, false, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", gitRef.URL, err)
	}

	if pinned {
		hash, err := repo.ResolveRevision(plumbing.Revision(gitRef.Ref))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve revision %s: %w", gitRef.Ref, err)
		}
		worktree, err := repo.Worktree()
		if err != nil {
			return nil, fmt.Errorf("failed to get worktree: %w", err)
		}
		if err := worktree.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
			return nil, fmt.Errorf("failed to check out %s: %w", gitRef.Ref, err)
		}
	}

	return repo, nil
}

// parseGitRef splits a reference into repository URL, ref and path
func parseGitRef(ref string) (*GitRef, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("URL %q has no scheme", ref)
	}

	query := u.Query()
	manifestPath := path.Clean(strings.TrimPrefix(query.Get("path"), "/"))
	if manifestPath == "." {
		return nil, fmt.Errorf("path parameter is required")
	}
	if strings.HasPrefix(manifestPath, "../") || manifestPath == ".." {
		return nil, fmt.Errorf("path %q escapes the repository", query.Get("path"))
	}

	u.RawQuery = ""
	cleanURL := u.String()
	if !strings.HasSuffix(cleanURL, ".git") && u.Scheme != "file" {
		cleanURL += ".git"
	}

	return &GitRef{
		URL:  cleanURL,
		Ref:  query.Get("ref"),
		Path: manifestPath,
	}, nil
}

// isCommitSHA reports whether ref looks like a full or short commit hash
func isCommitSHA(ref string) bool {
	if len(ref) != 40 && len(ref) != 7 {
		return false
	}
	for _, r := range ref {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

// gitAuth maps credentials onto a go-git auth method
func gitAuth(creds *Credentials) (transport.AuthMethod, error) {
	switch {
	case creds == nil:
		return nil, nil
	case len(creds.SSHKey) > 0:
		user := creds.Username
		if user == "" {
			user = "git"
		}
		keys, err := ssh.NewPublicKeys(user, creds.SSHKey, creds.SSHPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		return keys, nil
	case creds.Token != "":
		// Works for GitHub and GitLab
		return &http.BasicAuth{Username: "x-access-token", Password: creds.Token}, nil
	case creds.Username != "":
		return &http.BasicAuth{Username: creds.Username, Password: creds.Password}, nil
	default:
		return nil, nil
	}
}
