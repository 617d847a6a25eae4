package api

import (
	"encoding/json"
	"time"

	"traceapi/internal/generation"
	"traceapi/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func rawOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// FromUnit converts a stored unit to its API representation.
func FromUnit(u *store.Unit) Unit {
	if u == nil {
		return Unit{}
	}
	return Unit{
		ID:              u.ID,
		Stage:           string(u.Stage),
		Format:          u.Format,
		Annotation:      u.Annotation,
		AnnotatedUnitID: u.AnnotatedUnitID,
		ErrorMessage:    u.ErrorMessage,
		CreatedAt:       formatTime(u.CreatedAt),
		UpdatedAt:       formatTime(u.UpdatedAt),
	}
}

// FromAnnotatedUnit converts a stored annotated unit to its API representation.
func FromAnnotatedUnit(au *store.AnnotatedUnit) AnnotatedUnit {
	if au == nil {
		return AnnotatedUnit{}
	}
	return AnnotatedUnit{
		ID:          au.ID,
		Name:        au.Name,
		Description: au.Description,
		CreatedAt:   formatTime(au.CreatedAt),
		Stats:       rawOrNil(au.Stats),
		IPDetails:   rawOrNil(au.IPDetails),
		Labels:      nonNil(au.Labels),
	}
}

// FromMix converts a stored mix to its API representation.
func FromMix(m *store.Mix) Mix {
	if m == nil {
		return Mix{}
	}
	origins := make([]Origin, 0, len(m.Origins))
	for _, o := range m.Origins {
		origins = append(origins, Origin{
			AnnotatedUnitID: o.AnnotatedUnitID,
			IPMapping:       fromPairs(o.IPMapping),
			MACMapping:      fromPairs(o.MACMapping),
			Timestamp:       o.Timestamp,
		})
	}
	return Mix{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		CreatedAt:      formatTime(m.CreatedAt),
		Labels:         nonNil(m.Labels),
		AnnotatedUnits: origins,
	}
}

// FromGeneration converts a generation record to its API representation.
func FromGeneration(g *store.Generation) Generation {
	if g == nil {
		return Generation{}
	}
	return Generation{
		ID:        g.ID,
		MixID:     g.MixID,
		State:     string(g.State),
		Progress:  g.Progress,
		Error:     g.ErrorMessage,
		CreatedAt: formatTime(g.CreatedAt),
		UpdatedAt: formatTime(g.UpdatedAt),
	}
}

// FromSummary converts orchestrator diagnostics to their API representation.
func FromSummary(summary generation.Summary) GenerationStatus {
	stats := make(map[string]int, len(summary.Stats))
	for _, state := range store.AllGenerationStates() {
		stats[string(state)] = summary.Stats[state]
	}
	status := GenerationStatus{
		Running:       summary.Running,
		Workers:       summary.Workers,
		Queued:        summary.Queued,
		Active:        summary.Active,
		QueueCapacity: summary.QueueCapacity,
		Stats:         stats,
		LastError:     summary.LastError,
	}
	if summary.LastGeneration != nil {
		last := FromGeneration(summary.LastGeneration)
		status.LastGeneration = &last
	}
	return status
}

func fromPairs(pairs []store.AddressPair) []AddressPair {
	out := make([]AddressPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, AddressPair{Original: p.Original, Replacement: p.Replacement})
	}
	return out
}

func toPairs(pairs []AddressPair) []store.AddressPair {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]store.AddressPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, store.AddressPair{Original: p.Original, Replacement: p.Replacement})
	}
	return out
}

func toOrigins(origins []Origin) []store.Origin {
	out := make([]store.Origin, 0, len(origins))
	for _, o := range origins {
		out = append(out, store.Origin{
			AnnotatedUnitID: o.AnnotatedUnitID,
			IPMapping:       toPairs(o.IPMapping),
			MACMapping:      toPairs(o.MACMapping),
			Timestamp:       o.Timestamp,
		})
	}
	return out
}
