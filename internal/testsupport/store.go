package testsupport

import (
	"context"
	"testing"

	"traceapi/internal/blobstore"
	"traceapi/internal/config"
	"traceapi/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustOpenBlobs opens the blob store configured in cfg.
func MustOpenBlobs(t testing.TB, cfg *config.Config) *blobstore.Store {
	t.Helper()

	blobs, err := blobstore.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("blobstore.NewFromConfig: %v", err)
	}
	return blobs
}

// NewAnnotatedUnit inserts a bare annotated unit row pointing at location.
func NewAnnotatedUnit(t testing.TB, st *store.Store, name, location string, labels ...string) *store.AnnotatedUnit {
	t.Helper()

	au, err := st.CreateAnnotatedUnit(context.Background(), &store.AnnotatedUnit{
		Name:         name,
		FileLocation: location,
		Labels:       labels,
	})
	if err != nil {
		t.Fatalf("store.CreateAnnotatedUnit: %v", err)
	}
	return au
}

// NewMix inserts a mix referencing the given annotated units with empty mappings.
func NewMix(t testing.TB, st *store.Store, name string, annotatedUnitIDs ...int64) *store.Mix {
	t.Helper()

	origins := make([]store.Origin, 0, len(annotatedUnitIDs))
	for _, id := range annotatedUnitIDs {
		origins = append(origins, store.Origin{AnnotatedUnitID: id})
	}
	mix, err := st.CreateMix(context.Background(), &store.Mix{Name: name, Origins: origins})
	if err != nil {
		t.Fatalf("store.CreateMix: %v", err)
	}
	return mix
}
