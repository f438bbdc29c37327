package dirstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"section_data_sets.json":           `[]`,
		"section_data_set_1/meta.json":     `{}`,
		"section_data_set_1/image.tif":     "tiff bytes",
		"section_data_set_2/sub/deep.json": `{}`,
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	store, err := New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing root")
	}

	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := New(file); err == nil {
		t.Error("expected error for non-directory root")
	}
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rc, err := store.Get(ctx, "section_data_set_1/image.tif")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "tiff bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := store.Get(ctx, "section_data_set_1/missing.tif"); !errors.Is(err, atlasfetch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Head(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	info, err := store.Head(ctx, "section_data_set_1/image.tif")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len("tiff bytes")) {
		t.Errorf("Size = %d", info.Size)
	}
	if info.ETag == "" {
		t.Error("ETag is empty")
	}

	if _, err := store.Head(ctx, "nope.json"); !errors.Is(err, atlasfetch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ok, err := store.Exists(ctx, "section_data_sets.json")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}

	ok, err = store.Exists(ctx, "absent.json")
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v", ok, err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	keys, err := store.List(ctx, "section_data_set_1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)

	want := []string{"section_data_set_1/image.tif", "section_data_set_1/meta.json"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List(all) failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List(all) = %v", all)
	}

	empty, err := store.List(ctx, "no_such_prefix/")
	if err != nil {
		t.Fatalf("List(missing prefix) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List(missing prefix) = %v", empty)
	}
}

func TestStore_List_PartialPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// S3 prefixes match on strings, not path segments.
	keys, err := store.List(ctx, "section_data_set_1/im")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "section_data_set_1/image.tif" {
		t.Errorf("List = %v, want [section_data_set_1/image.tif]", keys)
	}

	keys, err = store.List(ctx, "section_data_set_")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)
	want := []string{
		"section_data_set_1/image.tif",
		"section_data_set_1/meta.json",
		"section_data_set_2/sub/deep.json",
	}
	if len(keys) != len(want) {
		t.Fatalf("List = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, key := range []string{"", ".", "..", "../escape", "/etc/passwd"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, atlasfetch.ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}

	if _, err := store.List(ctx, "../up"); !errors.Is(err, atlasfetch.ErrInvalidKey) {
		t.Errorf("List(../up): expected ErrInvalidKey, got %v", err)
	}
}

func TestStore_WithFetcher(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	fetcher, err := atlasfetch.NewFetcher(store, "mirror", t.TempDir())
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}

	local, err := fetcher.Fetch(ctx, "section_data_set_1/meta.json")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, err := os.Stat(local); err != nil {
		t.Errorf("fetched file missing: %v", err)
	}
}
