package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"traceapi/internal/config"
	"traceapi/internal/fileutil"
	"traceapi/internal/services"
	"traceapi/internal/textutil"
)

const compressedSuffix = ".gz"

// ErrBlobNotFound is returned when a location does not resolve to a stored blob.
var ErrBlobNotFound = fmt.Errorf("blob %w", services.ErrNotFound)

// Store writes and reads blobs beneath a root directory.
type Store struct {
	root           string
	level          int
	subdirectories bool
	now            func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithCompressionLevel sets the gzip level used for new blobs.
func WithCompressionLevel(level int) Option {
	return func(s *Store) { s.level = level }
}

// WithSubdirectories toggles per-day subdirectories.
func WithSubdirectories(enabled bool) Option {
	return func(s *Store) { s.subdirectories = enabled }
}

// WithClock overrides the time source used for blob names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "blobstore", "init", "storage root is empty", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorage, "blobstore", "init", "create storage root", err)
	}
	s := &Store{root: abs, level: gzip.DefaultCompression, subdirectories: true, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConfig builds a Store from the storage section of cfg.
func NewFromConfig(cfg *config.Config) (*Store, error) {
	return New(cfg.Paths.StorageDir,
		WithCompressionLevel(cfg.Storage.CompressionLevel),
		WithSubdirectories(cfg.Storage.Subdirectories),
	)
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// Put compresses r into a new blob and returns its location.
func (s *Store) Put(ctx context.Context, r io.Reader, format string) (string, error) {
	location, err := s.newLocation(format)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.root, filepath.FromSlash(location))
	err = fileutil.WriteAtomic(target, 0o644, func(w io.Writer) error {
		zw, err := gzip.NewWriterLevel(w, s.level)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, contextReader{ctx: ctx, r: r}); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "put", location, err)
	}
	return location, nil
}

// PutFile stores the file at path.
func (s *Store) PutFile(ctx context.Context, path, format string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "put", "open source file", err)
	}
	defer f.Close()
	return s.Put(ctx, f, format)
}

// Open returns a reader over the decompressed blob contents.
func (s *Store) Open(location string) (io.ReadCloser, error) {
	path, err := s.Path(location)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, location)
		}
		return nil, services.Wrap(services.ErrStorage, "blobstore", "open", location, err)
	}
	if !strings.HasSuffix(path, compressedSuffix) {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, services.Wrap(services.ErrStorage, "blobstore", "open", "corrupt gzip stream", err)
	}
	return &gzipReadCloser{Reader: zr, file: f}, nil
}

// Fetch decompresses the blob at location into dst.
func (s *Store) Fetch(ctx context.Context, location, dst string) error {
	rc, err := s.Open(location)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "fetch", "create destination", err)
	}
	if _, err := io.Copy(out, contextReader{ctx: ctx, r: rc}); err != nil {
		_ = out.Close()
		return services.Wrap(services.ErrStorage, "blobstore", "fetch", location, err)
	}
	if err := out.Close(); err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "fetch", "close destination", err)
	}
	return nil
}

// Path resolves location to an absolute path inside the storage root.
func (s *Store) Path(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("%w: empty location", ErrBlobNotFound)
	}
	cleaned := filepath.Clean(filepath.FromSlash(location))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", services.Wrap(services.ErrValidation, "blobstore", "resolve", fmt.Sprintf("location %q escapes storage root", location), nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Exists reports whether a blob is present at location.
func (s *Store) Exists(location string) bool {
	path, err := s.Path(location)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the blob at location. Missing blobs are not an error.
func (s *Store) Remove(location string) error {
	path, err := s.Path(location)
	if err != nil {
		return err
	}
	if err := fileutil.RemoveIfExists(path); err != nil {
		return services.Wrap(services.ErrStorage, "blobstore", "remove", location, err)
	}
	return nil
}

func (s *Store) newLocation(format string) (string, error) {
	now := s.now()
	name := fmt.Sprintf("%s-%06d_%s.%s%s",
		now.Format("2006-01-02_15-04-05"),
		now.Nanosecond()/1000,
		uuid.NewString()[:5],
		textutil.SanitizeToken(format),
		compressedSuffix,
	)
	if !s.subdirectories {
		return name, nil
	}
	day := now.Format("2006-01-02")
	if err := os.MkdirAll(filepath.Join(s.root, day), 0o755); err != nil {
		return "", services.Wrap(services.ErrStorage, "blobstore", "put", "create day directory", err)
	}
	return day + "/" + name, nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	zerr := g.Reader.Close()
	ferr := g.file.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if c.ctx != nil {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
	}
	return c.r.Read(p)
}
