package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
	ErrNormalization = errors.New("normalization failed")
	ErrMerge         = errors.New("merge failed")
	ErrStorage       = errors.New("storage error")
	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Marker returns the first taxonomy sentinel carried by err, or ErrTransient
// when none is present.
func Marker(err error) error {
	for _, marker := range []error{
		ErrNotFound,
		ErrConflict,
		ErrValidation,
		ErrNormalization,
		ErrMerge,
		ErrStorage,
		ErrExternalTool,
		ErrConfiguration,
		ErrTimeout,
	} {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return ErrTransient
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
