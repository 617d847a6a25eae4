package store_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"traceapi/internal/services"
	"traceapi/internal/store"
	"traceapi/internal/testsupport"
)

func TestOpenCreatesSchemaAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	au := testsupport.NewAnnotatedUnit(t, st, "first", "a.pcap.gz", "L1")
	if au.ID == 0 {
		t.Fatal("expected annotated unit ID to be assigned")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetAnnotatedUnit(context.Background(), au.ID)
	if err != nil || got == nil {
		t.Fatalf("expected annotated unit after reopen, got %#v err=%v", got, err)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "L1" {
		t.Fatalf("unexpected labels %v", got.Labels)
	}
}

func TestUnitLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	unit, err := st.CreateUnit(ctx, "u.pcap.gz", "pcap", "")
	if err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	if unit.Stage != store.UnitStageUploaded {
		t.Fatalf("expected uploaded stage, got %s", unit.Stage)
	}
	au := testsupport.NewAnnotatedUnit(t, st, "from unit", "au.pcap.gz")
	if err := st.MarkUnitProcessed(ctx, unit.ID, au.ID); err != nil {
		t.Fatalf("MarkUnitProcessed: %v", err)
	}
	got, err := st.GetUnit(ctx, unit.ID)
	if err != nil {
		t.Fatalf("GetUnit: %v", err)
	}
	if got.Stage != store.UnitStageProcessed || got.AnnotatedUnitID != au.ID {
		t.Fatalf("unexpected unit after processing: %#v", got)
	}
	if err := st.MarkUnitFailed(ctx, 999, "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing unit, got %v", err)
	}
	missing, err := st.GetUnit(ctx, 12345)
	if err != nil || missing != nil {
		t.Fatalf("expected nil unit, got %#v err=%v", missing, err)
	}
}

func TestCreateMixRejectsMissingAnnotatedUnit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "present", "p.pcap.gz")
	_, err := st.CreateMix(ctx, &store.Mix{
		Name:    "broken",
		Labels:  []string{"x"},
		Origins: []store.Origin{{AnnotatedUnitID: au.ID}, {AnnotatedUnitID: 45678}},
	})
	if !errors.Is(err, store.ErrAnnotatedUnitNotFound) {
		t.Fatalf("expected annotated unit not found, got %v", err)
	}
	mixes, err := st.FindMixes(ctx, store.MixQuery{})
	if err != nil {
		t.Fatalf("FindMixes: %v", err)
	}
	if len(mixes) != 0 {
		t.Fatalf("expected no mix rows after failed create, got %d", len(mixes))
	}
}

func TestCreateMixPersistsOriginsInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a1 := testsupport.NewAnnotatedUnit(t, st, "a1", "a1.pcap.gz")
	a2 := testsupport.NewAnnotatedUnit(t, st, "a2", "a2.pcap.gz")
	created, err := st.CreateMix(ctx, &store.Mix{
		Name:        "Mix #1",
		Description: "two origins",
		Labels:      []string{"L1", "label2"},
		Origins: []store.Origin{
			{
				AnnotatedUnitID: a1.ID,
				IPMapping:       []store.AddressPair{{Original: "1.2.3.4", Replacement: "172.16.0.0"}},
				MACMapping:      []store.AddressPair{{Original: "00:A0:C9:14:C8:29", Replacement: "00:A0:C9:14:C8:29"}},
				Timestamp:       134,
			},
			{AnnotatedUnitID: a2.ID, Timestamp: 123},
		},
	})
	if err != nil {
		t.Fatalf("CreateMix: %v", err)
	}
	if len(created.Origins) != 2 {
		t.Fatalf("expected 2 origins, got %d", len(created.Origins))
	}
	first := created.Origins[0]
	if first.AnnotatedUnitID != a1.ID || first.Timestamp != 134 || len(first.IPMapping) != 1 || first.IPMapping[0].Replacement != "172.16.0.0" {
		t.Fatalf("unexpected first origin %#v", first)
	}
	if second := created.Origins[1]; second.AnnotatedUnitID != a2.ID || len(second.IPMapping) != 0 {
		t.Fatalf("unexpected second origin %#v", second)
	}
	if len(created.Labels) != 2 || created.Labels[1] != "label2" {
		t.Fatalf("unexpected labels %v", created.Labels)
	}
}

func TestDeleteAnnotatedUnitHonoursReferences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a1 := testsupport.NewAnnotatedUnit(t, st, "a1", "a1.pcap.gz")
	a2 := testsupport.NewAnnotatedUnit(t, st, "a2", "a2.pcap.gz")
	testsupport.NewMix(t, st, "Mix #1", a1.ID)

	for id, want := range map[int64]bool{a1.ID: true, a2.ID: false} {
		referenced, err := st.OriginReferencesAnnotatedUnit(ctx, id)
		if err != nil {
			t.Fatalf("OriginReferencesAnnotatedUnit(%d): %v", id, err)
		}
		if referenced != want {
			t.Fatalf("OriginReferencesAnnotatedUnit(%d) = %v, want %v", id, referenced, want)
		}
	}

	deleted, err := st.DeleteAnnotatedUnit(ctx, a2.ID)
	if err != nil {
		t.Fatalf("delete unreferenced: %v", err)
	}
	if deleted.FileLocation != "a2.pcap.gz" {
		t.Fatalf("expected deleted record returned, got %#v", deleted)
	}
	if _, err := st.DeleteAnnotatedUnit(ctx, a1.ID); !errors.Is(err, store.ErrReferenced) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for referenced unit, got %v", err)
	}
	if _, err := st.DeleteAnnotatedUnit(ctx, a2.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if got, _ := st.GetAnnotatedUnit(ctx, a1.ID); got == nil {
		t.Fatal("referenced unit must survive")
	}
}

func TestFindMixesFilters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	for i, name := range []string{"First mix #1", "Second mix #2", "Third mix #3"} {
		labels := []string{"all"}
		if i == 1 {
			labels = append(labels, "special")
		}
		if _, err := st.CreateMix(ctx, &store.Mix{
			Name:        name,
			Description: fmt.Sprintf("description %d", i),
			Labels:      labels,
			Origins:     []store.Origin{{AnnotatedUnitID: au.ID}},
		}); err != nil {
			t.Fatalf("CreateMix: %v", err)
		}
	}

	tests := []struct {
		name  string
		query store.MixQuery
		want  int
	}{
		{"no predicates", store.MixQuery{}, 3},
		{"common substring", store.MixQuery{Name: "mix #", Operator: store.OperatorAnd}, 3},
		{"suffix substring", store.MixQuery{Name: "d mix #", Operator: store.OperatorAnd}, 2},
		{"exact", store.MixQuery{Name: "Second mix #2", Operator: store.OperatorAnd}, 1},
		{"missing", store.MixQuery{Name: "Non existing mix", Operator: store.OperatorAnd}, 0},
		{"label", store.MixQuery{Labels: []string{"special"}}, 1},
		{"and", store.MixQuery{Name: "First", Labels: []string{"special"}, Operator: store.OperatorAnd}, 0},
		{"or", store.MixQuery{Name: "First", Labels: []string{"special"}, Operator: store.OperatorOr}, 2},
		{"wildcard literal", store.MixQuery{Name: "%"}, 0},
		{"limit", store.MixQuery{Limit: 2}, 2},
		{"second page", store.MixQuery{Limit: 2, Page: 1}, 1},
		{"page beyond offset range", store.MixQuery{Limit: 4, Page: 1 << 62}, 0},
		{"largest page", store.MixQuery{Limit: 1, Page: math.MaxInt}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.FindMixes(ctx, tt.query)
			if err != nil {
				t.Fatalf("FindMixes: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d mixes, got %d", tt.want, len(got))
			}
		})
	}

	newest, err := st.FindMixes(ctx, store.MixQuery{Limit: 1})
	if err != nil {
		t.Fatalf("FindMixes: %v", err)
	}
	if newest[0].Name != "Third mix #3" {
		t.Fatalf("expected newest first, got %q", newest[0].Name)
	}
}

func TestParseOperator(t *testing.T) {
	for input, want := range map[string]store.Operator{"": store.OperatorAnd, "and": store.OperatorAnd, "OR": store.OperatorOr} {
		got, err := store.ParseOperator(input)
		if err != nil || got != want {
			t.Fatalf("ParseOperator(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := store.ParseOperator("XOR"); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestDeleteMixCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	mix := testsupport.NewMix(t, st, "to delete", au.ID)
	gen, err := st.CreateGeneration(ctx, mix.ID)
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if err := st.CompleteGeneration(ctx, gen.ID, "out.pcap.gz"); err != nil {
		t.Fatalf("CompleteGeneration: %v", err)
	}

	locations, err := st.DeleteMix(ctx, mix.ID)
	if err != nil {
		t.Fatalf("DeleteMix: %v", err)
	}
	if len(locations) != 1 || locations[0] != "out.pcap.gz" {
		t.Fatalf("unexpected generation files %v", locations)
	}
	if got, _ := st.GetGeneration(ctx, gen.ID); got != nil {
		t.Fatal("expected generation removed with mix")
	}
	if _, err := st.DeleteAnnotatedUnit(ctx, au.ID); err != nil {
		t.Fatalf("annotated unit should be free after mix delete: %v", err)
	}
	if _, err := st.DeleteMix(ctx, mix.ID); !errors.Is(err, store.ErrMixNotFound) {
		t.Fatalf("expected mix not found, got %v", err)
	}
}

func TestGenerationProgressIsMonotonic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	mix := testsupport.NewMix(t, st, "m", au.ID)
	gen, err := st.CreateGeneration(ctx, mix.ID)
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if gen.State != store.GenerationCreated || gen.Progress != 0 || gen.Expired {
		t.Fatalf("unexpected new generation %#v", gen)
	}

	if ok, err := st.UpdateGenerationProgress(ctx, gen.ID, store.GenerationMerging, 50); err != nil || !ok {
		t.Fatalf("advance progress: ok=%v err=%v", ok, err)
	}
	if ok, err := st.UpdateGenerationProgress(ctx, gen.ID, store.GenerationValidating, 1); err != nil || ok {
		t.Fatalf("expected regression to be ignored: ok=%v err=%v", ok, err)
	}
	got, _ := st.GetGeneration(ctx, gen.ID)
	if got.Progress != 50 || got.State != store.GenerationMerging {
		t.Fatalf("unexpected record after regression attempt %#v", got)
	}
	if _, err := st.UpdateGenerationProgress(ctx, gen.ID, store.GenerationComplete, 99); err == nil {
		t.Fatal("expected error when using progress update for terminal state")
	}
	if err := st.CompleteGeneration(ctx, gen.ID, ""); err == nil {
		t.Fatal("expected error for empty location")
	}
	if err := st.CompleteGeneration(ctx, gen.ID, "mix.pcap.gz"); err != nil {
		t.Fatalf("CompleteGeneration: %v", err)
	}
	got, _ = st.GetGeneration(ctx, gen.ID)
	if got.Progress != 100 || got.State != store.GenerationComplete || got.FileLocation != "mix.pcap.gz" {
		t.Fatalf("unexpected completed record %#v", got)
	}
	if ok, _ := st.FailGeneration(ctx, gen.ID, "late failure"); ok {
		t.Fatal("complete record must not be failed afterwards")
	}
	if err := st.CompleteGeneration(ctx, gen.ID, "again.pcap.gz"); !errors.Is(err, store.ErrGenerationClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestFailGenerationKeepsProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	mix := testsupport.NewMix(t, st, "m", au.ID)
	gen, _ := st.CreateGeneration(ctx, mix.ID)
	if _, err := st.UpdateGenerationProgress(ctx, gen.ID, store.GenerationMerging, 42); err != nil {
		t.Fatalf("UpdateGenerationProgress: %v", err)
	}
	if ok, err := st.FailGeneration(ctx, gen.ID, "merge failed"); err != nil || !ok {
		t.Fatalf("FailGeneration ok=%v err=%v", ok, err)
	}
	got, _ := st.GetGeneration(ctx, gen.ID)
	if got.State != store.GenerationFailed || got.Progress != 42 || got.ErrorMessage != "merge failed" {
		t.Fatalf("unexpected failed record %#v", got)
	}
	if ok, _ := st.UpdateGenerationProgress(ctx, gen.ID, store.GenerationFinalizing, 99); ok {
		t.Fatal("failed record must not advance")
	}
}

func TestCreateGenerationExpiresPrevious(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	mix := testsupport.NewMix(t, st, "m", au.ID)

	if current, err := st.CurrentGeneration(ctx, mix.ID); err != nil || current != nil {
		t.Fatalf("expected no generation yet, got %#v err=%v", current, err)
	}
	first, _ := st.CreateGeneration(ctx, mix.ID)
	second, err := st.CreateGeneration(ctx, mix.ID)
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	current, err := st.CurrentGeneration(ctx, mix.ID)
	if err != nil || current == nil || current.ID != second.ID {
		t.Fatalf("expected second generation current, got %#v err=%v", current, err)
	}
	old, _ := st.GetGeneration(ctx, first.ID)
	if !old.Expired {
		t.Fatal("expected first generation expired")
	}
	all, err := st.ListGenerations(ctx, mix.ID)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 generations, got %d err=%v", len(all), err)
	}
	stats, err := st.GenerationStats(ctx)
	if err != nil {
		t.Fatalf("GenerationStats: %v", err)
	}
	if stats[store.GenerationCreated] != 1 {
		t.Fatalf("expected one live created record, got %v", stats)
	}
	if _, err := st.CreateGeneration(ctx, 9999); !errors.Is(err, store.ErrMixNotFound) {
		t.Fatalf("expected mix not found, got %v", err)
	}
}

func TestFailStaleAndInFlightGenerations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	m1 := testsupport.NewMix(t, st, "m1", au.ID)
	m2 := testsupport.NewMix(t, st, "m2", au.ID)
	g1, _ := st.CreateGeneration(ctx, m1.ID)
	g2, _ := st.CreateGeneration(ctx, m2.ID)

	n, err := st.FailStaleGenerations(ctx, time.Now().Add(-time.Hour), "stale")
	if err != nil || n != 0 {
		t.Fatalf("expected no stale generations, got %d err=%v", n, err)
	}
	if err := st.TouchGeneration(ctx, g1.ID); err != nil {
		t.Fatalf("TouchGeneration: %v", err)
	}
	n, err = st.FailStaleGenerations(ctx, time.Now().Add(time.Minute), "stale")
	if err != nil || n != 2 {
		t.Fatalf("expected both generations stale, got %d err=%v", n, err)
	}

	g3, _ := st.CreateGeneration(ctx, m2.ID)
	n, err = st.FailInFlightGenerations(ctx, "interrupted", g3.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected excluded generation to survive, got %d err=%v", n, err)
	}
	n, err = st.FailInFlightGenerations(ctx, "interrupted")
	if err != nil || n != 1 {
		t.Fatalf("expected one in-flight generation, got %d err=%v", n, err)
	}
	for _, id := range []int64{g1.ID, g2.ID, g3.ID} {
		got, _ := st.GetGeneration(ctx, id)
		if got.State != store.GenerationFailed {
			t.Fatalf("generation %d not failed: %#v", id, got)
		}
	}
}

func TestConcurrentProgressWriters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	au := testsupport.NewAnnotatedUnit(t, st, "au", "au.pcap.gz")
	const mixes = 6
	gens := make([]*store.Generation, 0, mixes)
	for i := 0; i < mixes; i++ {
		mix := testsupport.NewMix(t, st, fmt.Sprintf("m%d", i), au.ID)
		gen, err := st.CreateGeneration(ctx, mix.ID)
		if err != nil {
			t.Fatalf("CreateGeneration: %v", err)
		}
		gens = append(gens, gen)
	}

	var wg sync.WaitGroup
	errs := make(chan error, mixes)
	for _, gen := range gens {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for p := 1; p <= 98; p += 7 {
				if _, err := st.UpdateGenerationProgress(ctx, id, store.GenerationMerging, p); err != nil {
					errs <- err
					return
				}
			}
			errs <- st.CompleteGeneration(ctx, id, fmt.Sprintf("gen-%d.pcap.gz", id))
		}(gen.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent writer failed: %v", err)
		}
	}
	for _, gen := range gens {
		got, _ := st.GetGeneration(ctx, gen.ID)
		if got.State != store.GenerationComplete || got.Progress != 100 {
			t.Fatalf("generation %d not complete: %#v", gen.ID, got)
		}
	}
}
