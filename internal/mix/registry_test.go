package mix_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"traceapi/internal/logging"
	"traceapi/internal/mix"
	"traceapi/internal/services"
	"traceapi/internal/store"
	"traceapi/internal/testsupport"
)

func newRegistry(t *testing.T) (*mix.Registry, *store.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	return mix.NewRegistry(st, blobs, logging.NewNop()), st
}

func TestCreateAndFind(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	a1 := testsupport.NewAnnotatedUnit(t, st, "A1", "a1.pcap.gz")

	created, err := reg.Create(ctx, mix.CreateRequest{
		Name:        "  Mix #1  ",
		Description: "first mix",
		Labels:      []string{"L1", " ", "label2"},
		Origins: []store.Origin{{
			AnnotatedUnitID: a1.ID,
			IPMapping:       []store.AddressPair{{Original: "1.2.3.4", Replacement: "172.16.0.0"}},
			MACMapping:      []store.AddressPair{{Original: "00:A0:C9:14:C8:29", Replacement: "00:A0:C9:14:C8:29"}},
			Timestamp:       134,
		}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Name != "Mix #1" || len(created.Labels) != 2 {
		t.Fatalf("unexpected mix %#v", created)
	}

	found, err := reg.Find(ctx, mix.Query{Name: "Mix #1"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 1 || found[0].ID != created.ID {
		t.Fatalf("expected created mix in results, got %v", found)
	}
	if len(found[0].Origins) != 1 || found[0].Origins[0].Timestamp != 134 {
		t.Fatalf("origins not returned with mix: %#v", found[0].Origins)
	}

	got, err := reg.Get(ctx, created.ID)
	if err != nil || got.Description != "first mix" {
		t.Fatalf("Get: %#v err=%v", got, err)
	}
}

func TestCreateValidation(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	a1 := testsupport.NewAnnotatedUnit(t, st, "A1", "a1.pcap.gz")

	cases := map[string]mix.CreateRequest{
		"empty name": {Origins: []store.Origin{{AnnotatedUnitID: a1.ID}}},
		"no origins": {Name: "x"},
		"zero id":    {Name: "x", Origins: []store.Origin{{}}},
		"bad ip":     {Name: "x", Origins: []store.Origin{{AnnotatedUnitID: a1.ID, IPMapping: []store.AddressPair{{Original: "1.2.3.4", Replacement: "x"}}}}},
		"bad mac":    {Name: "x", Origins: []store.Origin{{AnnotatedUnitID: a1.ID, MACMapping: []store.AddressPair{{Original: "zz", Replacement: "00:00:00:00:00:01"}}}}},
		"negative":   {Name: "x", Origins: []store.Origin{{AnnotatedUnitID: a1.ID, Timestamp: -5}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := reg.Create(ctx, req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	_, err := reg.Create(ctx, mix.CreateRequest{Name: "missing", Origins: []store.Origin{{AnnotatedUnitID: a1.ID + 100}}})
	if !errors.Is(err, mix.ErrAnnotatedUnitNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected annotated unit not found, got %v", err)
	}
	all, _ := reg.Find(ctx, mix.Query{})
	if len(all) != 0 {
		t.Fatalf("failed creates must not leave rows, found %d", len(all))
	}
}

func TestFindScenario(t *testing.T) {
	reg, st := newRegistry(t)
	ctx := context.Background()
	a1 := testsupport.NewAnnotatedUnit(t, st, "A1", "a1.pcap.gz")

	for _, name := range []string{"First mix #1", "Second mix #2", "Third mix #3"} {
		if _, err := reg.Create(ctx, mix.CreateRequest{Name: name, Origins: []store.Origin{{AnnotatedUnitID: a1.ID}}}); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}
	for query, want := range map[string]int{
		"mix #":            3,
		"d mix #":          2,
		"Second mix #2":    1,
		"Non existing mix": 0,
	} {
		got, err := reg.Find(ctx, mix.Query{Name: query, Operator: store.OperatorAnd})
		if err != nil {
			t.Fatalf("Find %q: %v", query, err)
		}
		if len(got) != want {
			t.Fatalf("Find %q: expected %d, got %d", query, want, len(got))
		}
	}

	if _, err := reg.Find(ctx, mix.Query{Operator: "XOR"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for operator, got %v", err)
	}

	for _, page := range []int{1, 1 << 62} {
		got, err := reg.Find(ctx, mix.Query{Page: page, Limit: 4})
		if err != nil {
			t.Fatalf("Find page %d: %v", page, err)
		}
		if len(got) != 0 {
			t.Fatalf("Find page %d: expected no mixes past the data, got %d", page, len(got))
		}
	}
}

func TestDeleteReleasesGeneratedBlobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	reg := mix.NewRegistry(st, blobs, logging.NewNop())
	ctx := context.Background()

	a1 := testsupport.NewAnnotatedUnit(t, st, "A1", "a1.pcap.gz")
	m := testsupport.NewMix(t, st, "to delete", a1.ID)
	gen, err := st.CreateGeneration(ctx, m.ID)
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	location, err := blobs.Put(ctx, strings.NewReader("merged"), "pcap")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.CompleteGeneration(ctx, gen.ID, location); err != nil {
		t.Fatalf("CompleteGeneration: %v", err)
	}

	if err := reg.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if blobs.Exists(location) {
		t.Fatal("generated blob must be removed with the mix")
	}
	if _, err := reg.Get(ctx, m.ID); !errors.Is(err, mix.ErrMixNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := reg.Delete(ctx, m.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
