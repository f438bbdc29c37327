package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

func newTestStore(t *testing.T) (*Store, *MockS3Client) {
	t.Helper()
	client := NewMockS3Client()
	store, err := New(client, Config{Bucket: "test-bucket"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store, client
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{Bucket: "b"}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(NewMockS3Client(), Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)
	client.AddObject("donor_metadata.json", []byte(`[]`))

	rc, err := store.Get(ctx, "donor_metadata.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != `[]` {
		t.Errorf("data = %q", data)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Get(ctx, "missing.json")
	if !errors.Is(err, atlasfetch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Get_AccessDenied(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)
	client.DenyAccess = true

	_, err := store.Get(ctx, "anything.json")
	if !errors.Is(err, atlasfetch.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestStore_Head(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)
	client.AddObject("image.tif", []byte("tiff bytes"))

	info, err := store.Head(ctx, "image.tif")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.Size != int64(len("tiff bytes")) {
		t.Errorf("Size = %d", info.Size)
	}
	if info.ETag != mockETag([]byte("tiff bytes")) {
		t.Errorf("ETag = %q", info.ETag)
	}

	if _, err := store.Head(ctx, "missing.tif"); !errors.Is(err, atlasfetch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Exists(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)
	client.AddObject("present.json", []byte("{}"))

	ok, err := store.Exists(ctx, "present.json")
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
	store, client := newTestStore(t)
	client.AddObject("section_data_set_1/a.tif", []byte("a"))
	client.AddObject("section_data_set_1/b.tif", []byte("b"))
	client.AddObject("section_data_set_2/c.tif", []byte("c"))

	keys, err := store.List(ctx, "section_data_set_1/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(keys)

	want := []string{"section_data_set_1/a.tif", "section_data_set_1/b.tif"}
	if len(keys) != len(want) {
		t.Fatalf("List returned %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_Prefix(t *testing.T) {
	ctx := context.Background()
	client := NewMockS3Client()
	client.AddObject("v2/meta.json", []byte("{}"))

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "v2"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rc, err := store.Get(ctx, "meta.json")
	if err != nil {
		t.Fatalf("Get through prefix failed: %v", err)
	}
	_ = rc.Close()

	keys, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "meta.json" {
		t.Errorf("List = %v, want [meta.json]", keys)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for _, key := range []string{"", ".", "..", "../escape"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, atlasfetch.ErrInvalidKey) {
			t.Errorf("Get(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}

	if _, err := store.List(ctx, "../up"); !errors.Is(err, atlasfetch.ErrInvalidKey) {
		t.Errorf("List(../up): expected ErrInvalidKey, got %v", err)
	}
}
