// Package dirstore implements atlasfetch.Store over a local directory
// holding a mirror of an atlas bucket. It serves the same keys the bucket
// would, which makes offline copies and test fixtures interchangeable with
// the real S3 backend.
package dirstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

// Store is a read-only atlasfetch.Store backed by a directory tree.
//
// Keys map to file paths relative to the root. Paths that would escape the
// root are rejected with ErrInvalidKey.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory. The directory must
// exist.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("dirstore: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dirstore: %s is not a directory", root)
	}
	return &Store{root: root}, nil
}

// Root returns the mirror root directory.
func (s *Store) Root() string { return s.root }

// Get opens the file for a key.
func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dirstore: get %s: %w", key, atlasfetch.ErrNotFound)
		}
		return nil, fmt.Errorf("dirstore: get %s: %w", key, err)
	}
	return file, nil
}

// Head returns size, checksum, and content type for a key. The checksum is
// the hex MD5 of the file, matching what S3 reports for single-part objects.
func (s *Store) Head(_ context.Context, key string) (atlasfetch.ObjectInfo, error) {
	full, err := s.resolve(key)
	if err != nil {
		return atlasfetch.ObjectInfo{}, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return atlasfetch.ObjectInfo{}, fmt.Errorf("dirstore: head %s: %w", key, atlasfetch.ErrNotFound)
		}
		return atlasfetch.ObjectInfo{}, fmt.Errorf("dirstore: head %s: %w", key, err)
	}

	etag, err := fileMD5(full)
	if err != nil {
		return atlasfetch.ObjectInfo{}, fmt.Errorf("dirstore: head %s: %w", key, err)
	}

	return atlasfetch.ObjectInfo{
		Size:        info.Size(),
		ETag:        etag,
		ContentType: mime.TypeByExtension(filepath.Ext(full)),
	}, nil
}

// Exists checks whether a key is present in the mirror.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("dirstore: exists %s: %w", key, err)
	}
	return true, nil
}

// List returns all keys under a prefix, in slash form relative to the root.
// The prefix is a plain string prefix as in S3, so "img" matches
// "img_a.tif". A missing prefix yields an empty list, matching S3 semantics.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	search := s.root
	if prefix != "" {
		if _, err := s.resolve(strings.TrimSuffix(prefix, "/")); err != nil {
			return nil, err
		}
		// Walk from the deepest directory the prefix fully names; the last
		// segment may be a partial file or directory name.
		if i := strings.LastIndex(prefix, "/"); i >= 0 {
			search = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
		}
	}

	var keys []string
	err := filepath.WalkDir(search, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dirstore: list %s: %w", prefix, err)
	}
	return keys, nil
}

// resolve maps a key to an absolute path under the root, rejecting empty
// keys and traversal.
func (s *Store) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || cleaned == "." || filepath.IsAbs(cleaned) ||
		cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dirstore: key %q: %w", key, atlasfetch.ErrInvalidKey)
	}
	return filepath.Join(s.root, cleaned), nil
}

func fileMD5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var _ atlasfetch.Store = (*Store)(nil)
