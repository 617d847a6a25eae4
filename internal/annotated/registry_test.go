package annotated_test

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"traceapi/internal/annotated"
	"traceapi/internal/config"
	"traceapi/internal/logging"
	"traceapi/internal/pcaptool"
	"traceapi/internal/services"
	"traceapi/internal/store"
	"traceapi/internal/testsupport"
)

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string) (pcaptool.Stats, error) {
	return pcaptool.Stats{}, services.Wrap(services.ErrNormalization, "analyzer", "analyze", "boom", nil)
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	registry *annotated.Registry
	source   string
}

func newFixture(t *testing.T, opts ...annotated.Option) fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	source := testsupport.WritePcap(t, filepath.Join(testsupport.BaseDir(cfg), "source.pcap"),
		testsupport.UDPFlow(time.Unix(1_000, 0), time.Second, 3, "1.2.3.4", "5.6.7.8"))
	return fixture{
		cfg:      cfg,
		store:    st,
		registry: annotated.NewRegistry(st, blobs, cfg.Paths.ScratchDir, logging.NewNop(), opts...),
		source:   source,
	}
}

func countBlobs(t *testing.T, root string) int {
	t.Helper()

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".gz") {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk storage: %v", err)
	}
	return count
}

func TestCreateStoresNormalizedCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	au, err := f.registry.Create(ctx, annotated.CreateRequest{
		Name:        "dns burst",
		Description: "three udp packets",
		IPMapping:   []store.AddressPair{{Original: "1.2.3.4", Replacement: "172.16.0.1"}},
		Timestamp:   500,
		IPDetails:   json.RawMessage(`{"source": "lab"}`),
		SourcePath:  f.source,
		Labels:      []string{"dns", "lab"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if au.ID == 0 || au.FileLocation == "" {
		t.Fatalf("unexpected annotated unit %#v", au)
	}
	var stats pcaptool.Stats
	if err := json.Unmarshal(au.Stats, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Packets != 3 || stats.FirstTimestamp != 500 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.IPs) != 2 || stats.IPs[0] != "5.6.7.8" || stats.IPs[1] != "172.16.0.1" {
		t.Fatalf("expected rewritten addresses in stats, got %v", stats.IPs)
	}

	rc, got, err := f.registry.Download(ctx, au.ID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	if got.ID != au.ID {
		t.Fatalf("download returned unit %d", got.ID)
	}
	if packets := testsupport.DecodePcap(t, rc); len(packets) != 3 {
		t.Fatalf("expected 3 packets in download, got %d", len(packets))
	}
	if countBlobs(t, f.cfg.Paths.StorageDir) != 1 {
		t.Fatal("expected exactly one stored blob")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []annotated.CreateRequest{
		{Name: "", SourcePath: f.source},
		{Name: "no source"},
		{Name: "bad ip", SourcePath: f.source, IPMapping: []store.AddressPair{{Original: "nope", Replacement: "1.1.1.1"}}},
		{Name: "bad details", SourcePath: f.source, IPDetails: json.RawMessage(`[1,2]`)},
	}
	for _, req := range cases {
		if _, err := f.registry.Create(ctx, req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%q: expected validation error, got %v", req.Name, err)
		}
	}
	if countBlobs(t, f.cfg.Paths.StorageDir) != 0 {
		t.Fatal("validation failures must not store blobs")
	}
}

func TestCreateRemovesBlobWhenAnalysisFails(t *testing.T) {
	f := newFixture(t, annotated.WithAnalyzer(failingAnalyzer{}))

	_, err := f.registry.Create(context.Background(), annotated.CreateRequest{Name: "x", SourcePath: f.source})
	if !errors.Is(err, services.ErrNormalization) {
		t.Fatalf("expected analyzer error, got %v", err)
	}
	if countBlobs(t, f.cfg.Paths.StorageDir) != 0 {
		t.Fatal("blob must be removed after failed analysis")
	}
	units, err := f.registry.List(context.Background(), 0, 0)
	if err != nil || len(units) != 0 {
		t.Fatalf("expected no annotated units, got %d err=%v", len(units), err)
	}
}

func TestDeleteRespectsMixReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1, err := f.registry.Create(ctx, annotated.CreateRequest{Name: "A1", SourcePath: f.source})
	if err != nil {
		t.Fatalf("Create A1: %v", err)
	}
	a2, err := f.registry.Create(ctx, annotated.CreateRequest{Name: "A2", SourcePath: f.source})
	if err != nil {
		t.Fatalf("Create A2: %v", err)
	}
	testsupport.NewMix(t, f.store, "uses A1", a1.ID)

	if err := f.registry.Delete(ctx, a2.ID); err != nil {
		t.Fatalf("delete unreferenced: %v", err)
	}
	if err := f.registry.Delete(ctx, a1.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if countBlobs(t, f.cfg.Paths.StorageDir) != 1 {
		t.Fatal("expected only the referenced unit's blob to remain")
	}
	if _, err := f.registry.Get(ctx, a2.ID); !errors.Is(err, annotated.ErrAnnotatedUnitNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := f.registry.Delete(ctx, a2.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on repeated delete, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three"} {
		if _, err := f.registry.Create(ctx, annotated.CreateRequest{Name: name, SourcePath: f.source}); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	units, err := f.registry.List(ctx, 0, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(units) != 2 || units[0].Name != "three" || units[1].Name != "two" {
		t.Fatalf("unexpected page %v", units)
	}

	for page, want := range map[int]int{1: 1, 2: 0, 1 << 62: 0} {
		units, err := f.registry.List(ctx, page, 2)
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		if len(units) != want {
			t.Fatalf("List page %d: expected %d units, got %d", page, want, len(units))
		}
	}
}
