package annotated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"traceapi/internal/blobstore"
	"traceapi/internal/logging"
	"traceapi/internal/pcaptool"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

// ErrAnnotatedUnitNotFound is returned when an annotated unit does not exist.
var ErrAnnotatedUnitNotFound = store.ErrAnnotatedUnitNotFound

// Normalizer rewrites a capture according to a prepared configuration.
type Normalizer interface {
	PrepareConfiguration(ipMapping, macMapping []pcaptool.AddressPair, timestamp float64) (pcaptool.Configuration, error)
	Normalize(ctx context.Context, src, dst string, cfg pcaptool.Configuration) error
}

// Analyzer summarizes a capture.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (pcaptool.Stats, error)
}

// CreateRequest describes a new annotated unit.
type CreateRequest struct {
	Name        string
	Description string
	IPMapping   []store.AddressPair
	MACMapping  []store.AddressPair
	Timestamp   float64
	IPDetails   json.RawMessage
	SourcePath  string
	Labels      []string
}

// Registry creates, reads and deletes annotated units.
type Registry struct {
	store      *store.Store
	blobs      *blobstore.Store
	normalizer Normalizer
	analyzer   Analyzer
	scratchDir string
	logger     *slog.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithNormalizer replaces the capture normalizer.
func WithNormalizer(n Normalizer) Option {
	return func(r *Registry) {
		if n != nil {
			r.normalizer = n
		}
	}
}

// WithAnalyzer replaces the capture analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(r *Registry) {
		if a != nil {
			r.analyzer = a
		}
	}
}

// NewRegistry constructs a Registry. scratchDir holds intermediate files.
func NewRegistry(st *store.Store, blobs *blobstore.Store, scratchDir string, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:      st,
		blobs:      blobs,
		normalizer: pcaptool.NewNormalizer(),
		analyzer:   pcaptool.NewAnalyzer(),
		scratchDir: scratchDir,
		logger:     logging.NewComponentLogger(logger, "annotated-units"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ToolPairs converts stored address pairs to the normalizer's form.
func ToolPairs(pairs []store.AddressPair) []pcaptool.AddressPair {
	out := make([]pcaptool.AddressPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, pcaptool.AddressPair{Original: p.Original, Replacement: p.Replacement})
	}
	return out
}

// Create normalizes req.SourcePath, stores and analyzes the result, and
// records a new annotated unit.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*store.AnnotatedUnit, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, services.Wrap(services.ErrValidation, "annotated-units", "create", "name is required", nil)
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		return nil, services.Wrap(services.ErrValidation, "annotated-units", "create", "source capture is required", nil)
	}
	if len(req.IPDetails) > 0 && !isJSONObject(req.IPDetails) {
		return nil, services.Wrap(services.ErrValidation, "annotated-units", "create", "ip_details must be a JSON object", nil)
	}
	cfg, err := r.normalizer.PrepareConfiguration(ToolPairs(req.IPMapping), ToolPairs(req.MACMapping), req.Timestamp)
	if err != nil {
		return nil, err
	}

	scratch, err := os.CreateTemp(r.scratchDir, "annotate-*.pcap")
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "annotated-units", "create", "allocate scratch file", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	if err := r.normalizer.Normalize(ctx, req.SourcePath, scratchPath, cfg); err != nil {
		return nil, err
	}
	location, err := r.blobs.PutFile(ctx, scratchPath, "pcap")
	if err != nil {
		return nil, err
	}
	logger := logging.WithContext(ctx, r.logger)

	stats, err := r.analyzer.Analyze(ctx, scratchPath)
	if err != nil {
		r.releaseBlob(logger, location)
		return nil, err
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		r.releaseBlob(logger, location)
		return nil, fmt.Errorf("encode stats: %w", err)
	}

	au, err := r.store.CreateAnnotatedUnit(ctx, &store.AnnotatedUnit{
		Name:         req.Name,
		Description:  req.Description,
		Stats:        statsJSON,
		IPDetails:    req.IPDetails,
		FileLocation: location,
		Labels:       req.Labels,
	})
	if err != nil {
		r.releaseBlob(logger, location)
		return nil, services.Wrap(services.ErrStorage, "annotated-units", "create", "persist annotated unit", err)
	}
	logger.Info("annotated unit created",
		logging.Int64(logging.FieldAnnotatedUnitID, au.ID),
		logging.String("name", au.Name),
		logging.Int("packets", stats.Packets),
		logging.String("location", location),
		logging.String(logging.FieldEventType, "annotated_unit_created"),
	)
	return au, nil
}

// Get returns the annotated unit with id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.AnnotatedUnit, error) {
	au, err := r.store.GetAnnotatedUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if au == nil {
		return nil, fmt.Errorf("%w: %d", ErrAnnotatedUnitNotFound, id)
	}
	return au, nil
}

// List returns annotated units newest first.
func (r *Registry) List(ctx context.Context, page, limit int) ([]*store.AnnotatedUnit, error) {
	return r.store.ListAnnotatedUnits(ctx, page, limit)
}

// Delete removes an annotated unit that no mix references, then releases its
// blob. Blob removal failures are logged only.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	au, err := r.store.DeleteAnnotatedUnit(ctx, id)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, r.logger).With(logging.Int64(logging.FieldAnnotatedUnitID, id))
	r.releaseBlob(logger, au.FileLocation)
	logger.Info("annotated unit deleted", logging.String(logging.FieldEventType, "annotated_unit_deleted"))
	return nil
}

// Download opens the stored capture of an annotated unit.
func (r *Registry) Download(ctx context.Context, id int64) (io.ReadCloser, *store.AnnotatedUnit, error) {
	au, err := r.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := r.blobs.Open(au.FileLocation)
	if err != nil {
		return nil, nil, err
	}
	return rc, au, nil
}

func (r *Registry) releaseBlob(logger *slog.Logger, location string) {
	if location == "" {
		return
	}
	if err := r.blobs.Remove(location); err != nil && !errors.Is(err, services.ErrNotFound) {
		logging.WarnWithContext(logger, "failed to remove blob", "blob_remove_failed",
			logging.String("location", location),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the file from the storage directory manually"),
		)
	}
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
