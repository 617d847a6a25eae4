package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"traceapi/internal/services"
)

// maxBodyBytes bounds JSON request bodies. Capture uploads are streamed and
// not subject to it.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Wrap(services.ErrValidation, "api", "decode", "request body is empty", nil)
		}
		return services.Wrap(services.ErrValidation, "api", "decode", "malformed JSON", err)
	}
	if err := validate.Struct(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "validate", describeValidation(err), nil)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
