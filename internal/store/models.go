package store

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// UnitStage represents the processing state of a raw upload.
type UnitStage string

const (
	UnitStageUploaded  UnitStage = "uploaded"
	UnitStageProcessed UnitStage = "processed"
	UnitStageFailed    UnitStage = "failed"
)

// Unit is a raw uploaded capture awaiting annotation.
type Unit struct {
	ID              int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Stage           UnitStage
	FileLocation    string
	Format          string
	Annotation      string
	AnnotatedUnitID int64
	ErrorMessage    string
}

// AddressPair maps one original address to its replacement.
type AddressPair struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
}

// AnnotatedUnit is a normalized, analyzed and immutable trace asset.
type AnnotatedUnit struct {
	ID           int64
	Name         string
	Description  string
	CreatedAt    time.Time
	Stats        json.RawMessage
	IPDetails    json.RawMessage
	FileLocation string
	Labels       []string
}

// Origin is one constituent of a mix: an annotated unit plus rewrite rules.
type Origin struct {
	AnnotatedUnitID int64
	IPMapping       []AddressPair
	MACMapping      []AddressPair
	// Timestamp is the epoch instant, in seconds, the unit's first packet is
	// moved to when the mix is generated.
	Timestamp float64
}

// Mix is a named, labelled, ordered set of origins.
type Mix struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	Labels      []string
	Origins     []Origin
}

// GenerationState is the lifecycle state of a generation record.
type GenerationState string

const (
	GenerationCreated    GenerationState = "created"
	GenerationValidating GenerationState = "validating"
	GenerationMerging    GenerationState = "merging"
	GenerationFinalizing GenerationState = "finalizing"
	GenerationComplete   GenerationState = "complete"
	GenerationFailed     GenerationState = "failed"
)

var allGenerationStates = []GenerationState{
	GenerationCreated,
	GenerationValidating,
	GenerationMerging,
	GenerationFinalizing,
	GenerationComplete,
	GenerationFailed,
}

// AllGenerationStates returns every generation state in lifecycle order.
func AllGenerationStates() []GenerationState {
	out := make([]GenerationState, len(allGenerationStates))
	copy(out, allGenerationStates)
	return out
}

// IsTerminal reports whether no further transitions are allowed.
func (s GenerationState) IsTerminal() bool {
	return s == GenerationComplete || s == GenerationFailed
}

// Generation tracks one asynchronous attempt to build a mix output file.
type Generation struct {
	ID            int64
	MixID         int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	State         GenerationState
	Progress      int
	Expired       bool
	FileLocation  string
	ErrorMessage  string
	LastHeartbeat *time.Time
}

// InFlight reports whether the generation is still being worked on.
func (g *Generation) InFlight() bool {
	return g != nil && !g.State.IsTerminal()
}

// Operator joins mix search predicates.
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// ParseOperator converts user input to an Operator. Empty input means AND.
func ParseOperator(value string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(OperatorAnd):
		return OperatorAnd, nil
	case string(OperatorOr):
		return OperatorOr, nil
	default:
		return "", fmt.Errorf("unsupported operator %q", value)
	}
}

// DefaultFindLimit is used when a query does not set a page size.
const DefaultFindLimit = 100

// pageWindow turns a zero-based page and page size into LIMIT and OFFSET
// values. ok is false when the offset would not fit in an int, which no
// stored row can reach.
func pageWindow(page, limit int) (int, int, bool) {
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	if page < 0 {
		page = 0
	}
	if page > math.MaxInt/limit {
		return limit, 0, false
	}
	return limit, page * limit, true
}

// MixQuery filters mixes. Name and Description are substring matches, each
// label adds a predicate, and the predicates are joined by Operator.
type MixQuery struct {
	Name        string
	Description string
	Labels      []string
	Operator    Operator
	Page        int
	Limit       int
}
