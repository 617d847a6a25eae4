package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// AddressPair maps one original address to its replacement.
type AddressPair struct {
	Original    string `json:"original" validate:"required"`
	Replacement string `json:"replacement" validate:"required"`
}

// Unit describes a raw uploaded capture.
type Unit struct {
	ID              int64  `json:"id_unit"`
	Stage           string `json:"stage"`
	Format          string `json:"format"`
	Annotation      string `json:"annotation,omitempty"`
	AnnotatedUnitID int64  `json:"id_annotated_unit,omitempty"`
	ErrorMessage    string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// AnnotatedUnitCreateRequest creates an annotated unit from an uploaded unit.
type AnnotatedUnitCreateRequest struct {
	UnitID      int64           `json:"id_unit" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description" validate:"max=4096"`
	IPMapping   []AddressPair   `json:"ip_mapping" validate:"dive"`
	MACMapping  []AddressPair   `json:"mac_mapping" validate:"dive"`
	Timestamp   float64         `json:"timestamp" validate:"gte=0"`
	IPDetails   json.RawMessage `json:"ip_details"`
	Labels      []string        `json:"labels" validate:"dive,max=255"`
}

// AnnotatedUnit describes a normalized, analyzed trace asset.
type AnnotatedUnit struct {
	ID          int64           `json:"id_annotated_unit"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CreatedAt   string          `json:"creation_time,omitempty"`
	Stats       json.RawMessage `json:"stats,omitempty"`
	IPDetails   json.RawMessage `json:"ip_details,omitempty"`
	Labels      []string        `json:"labels"`
}

// Origin is one annotated unit of a mix with its rewrite rules.
type Origin struct {
	AnnotatedUnitID int64         `json:"id_annotated_unit" validate:"required,gt=0"`
	IPMapping       []AddressPair `json:"ip_mapping" validate:"dive"`
	MACMapping      []AddressPair `json:"mac_mapping" validate:"dive"`
	Timestamp       float64       `json:"timestamp" validate:"gte=0"`
}

// MixCreateRequest creates a mix.
type MixCreateRequest struct {
	Name           string   `json:"name" validate:"required,max=255"`
	Description    string   `json:"description" validate:"max=4096"`
	Labels         []string `json:"labels" validate:"dive,max=255"`
	AnnotatedUnits []Origin `json:"annotated_units" validate:"required,min=1,dive"`
}

// MixFindRequest filters mixes.
type MixFindRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Operator    string   `json:"operator"`
	Page        int      `json:"page" validate:"gte=0"`
	Limit       int      `json:"limit" validate:"gte=0,lte=1000"`
}

// Mix describes a mix and its origins.
type Mix struct {
	ID             int64    `json:"id_mix"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	CreatedAt      string   `json:"creation_time,omitempty"`
	Labels         []string `json:"labels"`
	AnnotatedUnits []Origin `json:"annotated_units"`
}

// Generation reports the state of a mix generation.
type Generation struct {
	ID        int64  `json:"id_generation"`
	MixID     int64  `json:"id_mix"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListResponse wraps a collection for API responses.
type ListResponse[T any] struct {
	Data []T `json:"data"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	State    string `json:"state,omitempty"`
	Progress *int   `json:"progress,omitempty"`
}

// GenerationStatus summarizes the generation worker pool.
type GenerationStatus struct {
	Running        bool           `json:"running"`
	Workers        int            `json:"workers"`
	Queued         int            `json:"queued"`
	Active         int            `json:"active"`
	QueueCapacity  int            `json:"queue_capacity"`
	Stats          map[string]int `json:"stats"`
	LastError      string         `json:"last_error,omitempty"`
	LastGeneration *Generation    `json:"last_generation,omitempty"`
}

// CheckResult mirrors a daemon readiness check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	DatabasePath string           `json:"database_path"`
	StorageDir   string           `json:"storage_dir"`
	LockFilePath string           `json:"lock_file_path"`
	Generation   GenerationStatus `json:"generation"`
	Checks       []CheckResult    `json:"checks"`
}
