package unit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"traceapi/internal/annotated"
	"traceapi/internal/blobstore"
	"traceapi/internal/logging"
	"traceapi/internal/services"
	"traceapi/internal/store"
	"traceapi/internal/textutil"
)

// SupportedFormats lists the accepted upload formats.
var SupportedFormats = []string{"pcap", "pcapng"}

// Registry stores uploads and drives their annotation.
type Registry struct {
	store      *store.Store
	blobs      *blobstore.Store
	annotated  *annotated.Registry
	scratchDir string
	logger     *slog.Logger
}

// NewRegistry constructs a Registry.
func NewRegistry(st *store.Store, blobs *blobstore.Store, annotatedUnits *annotated.Registry, scratchDir string, logger *slog.Logger) *Registry {
	return &Registry{
		store:      st,
		blobs:      blobs,
		annotated:  annotatedUnits,
		scratchDir: scratchDir,
		logger:     logging.NewComponentLogger(logger, "units"),
	}
}

// Upload stores r as a new unit in the uploaded stage.
func (r *Registry) Upload(ctx context.Context, body io.Reader, format string, annotation string) (*store.Unit, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "pcap"
	}
	if !supported(format) {
		return nil, services.Wrap(services.ErrValidation, "units", "upload",
			fmt.Sprintf("unsupported format %q", format), nil)
	}
	location, err := r.blobs.Put(ctx, body, textutil.SanitizeToken(format))
	if err != nil {
		return nil, err
	}
	u, err := r.store.CreateUnit(ctx, location, format, annotation)
	if err != nil {
		_ = r.blobs.Remove(location)
		return nil, services.Wrap(services.ErrStorage, "units", "upload", "persist unit", err)
	}
	logging.WithContext(ctx, r.logger).Info("unit uploaded",
		logging.Int64(logging.FieldUnitID, u.ID),
		logging.String("format", format),
		logging.String("location", location),
		logging.String(logging.FieldEventType, "unit_uploaded"),
	)
	return u, nil
}

// Get returns the unit with id.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Unit, error) {
	u, err := r.store.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %d", store.ErrUnitNotFound, id)
	}
	return u, nil
}

// Annotate creates an annotated unit from the stored upload. The unit stage
// becomes processed on success. Capture errors mark it failed; validation
// errors leave it untouched so the request can be retried.
func (r *Registry) Annotate(ctx context.Context, unitID int64, req annotated.CreateRequest) (*store.AnnotatedUnit, error) {
	u, err := r.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	ctx = services.WithUnitID(ctx, unitID)
	logger := logging.WithContext(ctx, r.logger)

	scratch, err := os.CreateTemp(r.scratchDir, "unit-*."+textutil.SanitizeToken(u.Format))
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "units", "annotate", "allocate scratch file", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	if err := r.blobs.Fetch(ctx, u.FileLocation, scratchPath); err != nil {
		return nil, err
	}
	req.SourcePath = scratchPath
	au, err := r.annotated.Create(ctx, req)
	if err != nil {
		if isCaptureFailure(err) {
			if markErr := r.store.MarkUnitFailed(ctx, unitID, err.Error()); markErr != nil {
				logger.Warn("failed to record unit failure", logging.Error(markErr))
			}
		}
		return nil, err
	}
	if err := r.store.MarkUnitProcessed(ctx, unitID, au.ID); err != nil {
		logger.Warn("failed to mark unit processed", logging.Error(err),
			logging.Int64(logging.FieldAnnotatedUnitID, au.ID))
	}
	return au, nil
}

func isCaptureFailure(err error) bool {
	marker := services.Marker(err)
	return marker == services.ErrNormalization
}

func supported(format string) bool {
	for _, f := range SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}
