package blobstore

import (
	"context"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("%PDF-conteudo"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	// Same content, same handle.
	ref2, err := store.Put(ctx, []byte("%PDF-conteudo"))
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if ref != ref2 {
		t.Fatalf("content hash changed: %s != %s", ref, ref2)
	}

	data, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "%PDF-conteudo" {
		t.Fatalf("unexpected content: %s", data)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, ref); err == nil {
		t.Fatal("expected miss after delete")
	}
	// Deleting again is not an error.
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
