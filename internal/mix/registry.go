package mix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"traceapi/internal/annotated"
	"traceapi/internal/blobstore"
	"traceapi/internal/logging"
	"traceapi/internal/pcaptool"
	"traceapi/internal/services"
	"traceapi/internal/store"
)

// ErrMixNotFound is returned when a mix does not exist.
var ErrMixNotFound = store.ErrMixNotFound

// ErrAnnotatedUnitNotFound is returned when an origin references a missing annotated unit.
var ErrAnnotatedUnitNotFound = store.ErrAnnotatedUnitNotFound

// Query filters mixes. See store.MixQuery.
type Query = store.MixQuery

// CreateRequest describes a new mix.
type CreateRequest struct {
	Name        string
	Description string
	Labels      []string
	Origins     []store.Origin
}

// Registry creates, finds and deletes mixes.
type Registry struct {
	store      *store.Store
	blobs      *blobstore.Store
	normalizer *pcaptool.Normalizer
	logger     *slog.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(st *store.Store, blobs *blobstore.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:      st,
		blobs:      blobs,
		normalizer: pcaptool.NewNormalizer(),
		logger:     logging.NewComponentLogger(logger, "mixes"),
	}
}

// Create validates req and inserts the mix with its labels and origins.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*store.Mix, error) {
	if err := r.validate(&req); err != nil {
		return nil, err
	}
	created, err := r.store.CreateMix(ctx, &store.Mix{
		Name:        req.Name,
		Description: req.Description,
		Labels:      req.Labels,
		Origins:     req.Origins,
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, r.logger).Info("mix created",
		logging.Int64(logging.FieldMixID, created.ID),
		logging.String("name", created.Name),
		logging.Int("origins", len(created.Origins)),
		logging.String(logging.FieldEventType, "mix_created"),
	)
	return created, nil
}

func (r *Registry) validate(req *CreateRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return services.Wrap(services.ErrValidation, "mixes", "create", "name is required", nil)
	}
	if len(req.Origins) == 0 {
		return services.Wrap(services.ErrValidation, "mixes", "create", "at least one annotated unit is required", nil)
	}
	labels := make([]string, 0, len(req.Labels))
	for _, label := range req.Labels {
		if label = strings.TrimSpace(label); label != "" {
			labels = append(labels, label)
		}
	}
	req.Labels = labels
	for i, origin := range req.Origins {
		if origin.AnnotatedUnitID <= 0 {
			return services.Wrap(services.ErrValidation, "mixes", "create",
				fmt.Sprintf("origin %d: annotated unit id is required", i), nil)
		}
		if math.IsNaN(origin.Timestamp) || origin.Timestamp < 0 {
			return services.Wrap(services.ErrValidation, "mixes", "create",
				fmt.Sprintf("origin %d: timestamp must be a non-negative number", i), nil)
		}
		if _, err := r.normalizer.PrepareConfiguration(annotated.ToolPairs(origin.IPMapping), annotated.ToolPairs(origin.MACMapping), origin.Timestamp); err != nil {
			return fmt.Errorf("origin %d: %w", i, err)
		}
	}
	return nil
}

// Get returns the mix with id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Mix, error) {
	m, err := r.store.GetMix(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrMixNotFound, id)
	}
	return m, nil
}

// Find returns mixes matching q, newest first.
func (r *Registry) Find(ctx context.Context, q Query) ([]*store.Mix, error) {
	if q.Operator == "" {
		q.Operator = store.OperatorAnd
	}
	if q.Operator != store.OperatorAnd && q.Operator != store.OperatorOr {
		return nil, services.Wrap(services.ErrValidation, "mixes", "find",
			fmt.Sprintf("unsupported operator %q", q.Operator), nil)
	}
	if q.Page < 0 || q.Limit < 0 {
		return nil, services.Wrap(services.ErrValidation, "mixes", "find", "page and limit must not be negative", nil)
	}
	return r.store.FindMixes(ctx, q)
}

// Delete removes a mix, its origins, labels and generation records. Output
// blobs of removed generations are released best-effort.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	locations, err := r.store.DeleteMix(ctx, id)
	if err != nil {
		return err
	}
	logger := logging.WithContext(ctx, r.logger).With(logging.Int64(logging.FieldMixID, id))
	for _, location := range locations {
		if err := r.blobs.Remove(location); err != nil && !errors.Is(err, services.ErrNotFound) {
			logging.WarnWithContext(logger, "failed to remove generated blob", "blob_remove_failed",
				logging.String("location", location),
				logging.Error(err),
			)
		}
	}
	logger.Info("mix deleted",
		logging.Int("generated_files", len(locations)),
		logging.String(logging.FieldEventType, "mix_deleted"),
	)
	return nil
}
