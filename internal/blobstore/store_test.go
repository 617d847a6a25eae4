package blobstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"traceapi/internal/blobstore"
	"traceapi/internal/services"
)

func newStore(t *testing.T, opts ...blobstore.Option) *blobstore.Store {
	t.Helper()
	store, err := blobstore.New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	return store
}

func TestPutUsesDatedCompressedName(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 891011000, time.Local)
	store := newStore(t, blobstore.WithClock(func() time.Time { return fixed }))

	location, err := store.Put(context.Background(), strings.NewReader("trace"), "PCAP")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	pattern := regexp.MustCompile(`^2026-03-04/2026-03-04_05-06-07-891011_[0-9a-f]{5}\.pcap\.gz$`)
	if !pattern.MatchString(location) {
		t.Fatalf("unexpected location %q", location)
	}
	if !store.Exists(location) {
		t.Fatalf("expected blob at %q", location)
	}
}

func TestPutWithoutSubdirectories(t *testing.T) {
	store := newStore(t, blobstore.WithSubdirectories(false))
	location, err := store.Put(context.Background(), strings.NewReader("x"), "pcap")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if strings.Contains(location, "/") {
		t.Fatalf("expected flat location, got %q", location)
	}
}

func TestOpenRoundTripsCompressedContent(t *testing.T) {
	store := newStore(t)
	payload := bytes.Repeat([]byte("packet-data-"), 1024)

	location, err := store.Put(context.Background(), bytes.NewReader(payload), "pcap")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(store.Root(), location))
	if err != nil {
		t.Fatalf("read raw blob: %v", err)
	}
	if len(raw) >= len(payload) {
		t.Fatalf("expected compressed blob smaller than payload: %d >= %d", len(raw), len(payload))
	}

	rc, err := store.Open(location)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("decompressed content differs from payload")
	}
}

func TestFetchWritesDecompressedFile(t *testing.T) {
	store := newStore(t)
	location, err := store.Put(context.Background(), strings.NewReader("hello trace"), "pcap")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out.pcap")
	if err := store.Fetch(context.Background(), location, dst); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "hello trace" {
		t.Fatalf("unexpected fetched content %q err=%v", got, err)
	}
}

func TestOpenMissingBlob(t *testing.T) {
	store := newStore(t)
	_, err := store.Open("2020-01-01/missing.pcap.gz")
	if !errors.Is(err, blobstore.ErrBlobNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPathRejectsEscapes(t *testing.T) {
	store := newStore(t)
	for _, location := range []string{"../outside.gz", "/etc/passwd", ""} {
		if _, err := store.Path(location); err == nil {
			t.Fatalf("expected %q to be rejected", location)
		}
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := newStore(t)
	location, err := store.Put(context.Background(), strings.NewReader("x"), "pcap")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Remove(location); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Exists(location) {
		t.Fatal("expected blob removed")
	}
	if err := store.Remove(location); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestPutHonoursCancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, strings.NewReader("data"), "pcap"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
