package atlasfetch

import (
	"context"
	"crypto/md5" //nolint:gosec // matches the MD5-based ETags of S3 objects
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fetcher downloads remote objects into a local cache directory.
//
// The mapping from key to local path is pure and stable: the same dataset,
// root, and key always yield the same path, across calls and across
// processes. Cache entries are append-only; Fetch never deletes, truncates,
// or overwrites an existing file, even when the remote object has changed.
type Fetcher struct {
	store   Store
	dataset string
	root    string
	verify  bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithChecksumVerify enables MD5 verification of cache hits against the
// remote ETag. A mismatch surfaces as ErrChecksumMismatch; the cached file
// is left in place for the caller to inspect or remove.
//
// Verification costs one Head request per hit, so the default remains the
// plain existence check. Multipart ETags cannot be verified and are skipped.
func WithChecksumVerify() FetcherOption {
	return func(f *Fetcher) {
		f.verify = true
	}
}

// NewFetcher creates a Fetcher for one dataset backed by the given store.
//
// root is the local cache directory; it is created on first download.
// dataset names the subdirectory under root holding this dataset's entries,
// conventionally the bucket name.
func NewFetcher(store Store, dataset, root string, opts ...FetcherOption) (*Fetcher, error) {
	if store == nil {
		return nil, errors.New("atlasfetch: store is required")
	}
	if dataset == "" {
		return nil, errors.New("atlasfetch: dataset is required")
	}
	if root == "" {
		return nil, errors.New("atlasfetch: cache root is required")
	}

	f := &Fetcher{
		store:   store,
		dataset: dataset,
		root:    root,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dataset returns the dataset name this fetcher serves.
func (f *Fetcher) Dataset() string { return f.dataset }

// Root returns the local cache root.
func (f *Fetcher) Root() string { return f.root }

// LocalPath returns the deterministic local path for a resource key.
// The mapping is root/dataset/key with the slash-separated key converted
// to the platform's separators. Returns ErrInvalidKey for empty keys or
// keys that would escape the cache root.
func (f *Fetcher) LocalPath(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, f.dataset, filepath.FromSlash(cleaned)), nil
}

// Fetch ensures the object at key is present in the local cache and returns
// its path.
//
// On a hit the path is returned without any network access (one Head request
// when checksum verification is enabled). On a miss exactly one Get is
// issued and the full body is written to the deterministic path. Not-Found,
// access, and I/O errors propagate to the caller unretried; a failed
// download leaves no file behind.
func (f *Fetcher) Fetch(ctx context.Context, key string) (string, error) {
	local, err := f.LocalPath(key)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(local)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("atlasfetch: %s exists but is not a regular file", local)
		}
		if f.verify {
			if err := f.verifyLocal(ctx, key, local); err != nil {
				return "", err
			}
		}
		return local, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("atlasfetch: stat %s: %w", local, err)
	}

	body, err := f.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", fmt.Errorf("atlasfetch: create cache dir: %w", err)
	}

	// O_EXCL guards the never-overwrite invariant. Losing the race to an
	// earlier download of the same key is a hit, not an error.
	file, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return local, nil
		}
		return "", fmt.Errorf("atlasfetch: create %s: %w", local, err)
	}

	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(local)
		return "", fmt.Errorf("atlasfetch: write %s: %w", local, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(local)
		return "", fmt.Errorf("atlasfetch: close %s: %w", local, err)
	}

	return local, nil
}

// Open fetches the object at key and opens the cached file for reading.
func (f *Fetcher) Open(ctx context.Context, key string) (*os.File, error) {
	local, err := f.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("atlasfetch: open %s: %w", local, err)
	}
	return file, nil
}

// verifyLocal compares the cached file's MD5 against the remote ETag.
func (f *Fetcher) verifyLocal(ctx context.Context, key, local string) error {
	info, err := f.store.Head(ctx, key)
	if err != nil {
		return err
	}

	etag := strings.Trim(info.ETag, `"`)
	if etag == "" || strings.Contains(etag, "-") {
		// Multipart ETags are not content MD5s; nothing to compare.
		return nil
	}

	sum, err := fileMD5(local)
	if err != nil {
		return fmt.Errorf("atlasfetch: checksum %s: %w", local, err)
	}
	if sum != etag {
		return fmt.Errorf("%w: %s: local md5 %s, remote etag %s", ErrChecksumMismatch, key, sum, etag)
	}
	return nil
}

func fileMD5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	h := md5.New() //nolint:gosec // integrity check against S3 ETags, not security
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// cleanKey normalizes a slash-separated resource key and rejects keys that
// would escape the cache root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	cleaned := path.Clean(key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}

	return cleaned, nil
}
