package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"traceapi/internal/services"
)

var (
	// ErrReferenced is returned when deleting an annotated unit still used by a mix.
	ErrReferenced = fmt.Errorf("annotated unit is referenced by a mix: %w", services.ErrConflict)
	// ErrAnnotatedUnitNotFound is returned when an annotated unit id does not resolve.
	ErrAnnotatedUnitNotFound = fmt.Errorf("annotated unit %w", services.ErrNotFound)
	// ErrMixNotFound is returned when a mix id does not resolve.
	ErrMixNotFound = fmt.Errorf("mix %w", services.ErrNotFound)
	// ErrUnitNotFound is returned when a unit id does not resolve.
	ErrUnitNotFound = fmt.Errorf("unit %w", services.ErrNotFound)
	// ErrGenerationClosed is returned when writing to a terminal generation record.
	ErrGenerationClosed = errors.New("generation record is terminal")
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nowString() string {
	return formatTime(time.Now())
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

// escapeLike quotes LIKE wildcards so user input matches literally.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(value) + "%"
}

func encodePairs(pairs []AddressPair) (string, error) {
	if pairs == nil {
		pairs = []AddressPair{}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("encode address mapping: %w", err)
	}
	return string(data), nil
}

func decodePairs(raw string) ([]AddressPair, error) {
	pairs := []AddressPair{}
	if strings.TrimSpace(raw) == "" {
		return pairs, nil
	}
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode address mapping: %w", err)
	}
	return pairs, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}
