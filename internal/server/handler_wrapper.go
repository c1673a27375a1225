package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// maxBodyBytes limits JSON request bodies.
const maxBodyBytes = 16 << 20

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters can be extracted by tagging struct fields with `path:"name"`
// and query parameters with `query:"name"`.
//
// Example:
//
//	type GetRecordRequest struct {
//	    TM  string `path:"tm"`
//	    Key int64  `path:"key"`
//	}
//
//	func (h *Handler) GetRecord(ctx context.Context, req GetRecordRequest) (*Response, error)
func Wrap[In any, Out any](fn func(context.Context, In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err2 := r.Body.Close(); err == nil {
			err = err2
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to read request body", "err", err)
			writeError(ctx, w, apierrors.BadRequest("failed to read request body"))
			return
		}
		var input In
		if len(body) > 0 {
			d := json.NewDecoder(bytes.NewReader(body))
			d.DisallowUnknownFields()
			if err := d.Decode(&input); err != nil {
				slog.ErrorContext(ctx, "Failed to decode request body", "err", err)
				writeError(ctx, w, apierrors.BadRequest("invalid request body: %v", err))
				return
			}
		}
		if err := populateParams(r, &input); err != nil {
			writeError(ctx, w, err)
			return
		}

		output, err := fn(ctx, input)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

// populateParams sets the struct fields tagged with `path:"name"` from the
// path values and the ones tagged with `query:"name"` from the query string.
func populateParams(r *http.Request, input any) error {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Ptr {
		return nil
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return nil
	}
	query := r.URL.Query()
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		name, value := "", ""
		if tag := field.Tag.Get("path"); tag != "" {
			name, value = tag, r.PathValue(tag)
		} else if tag := field.Tag.Get("query"); tag != "" {
			name, value = tag, query.Get(tag)
		}
		if value == "" {
			continue
		}
		if err := setField(elem.Field(i), value); err != nil {
			return apierrors.BadRequest("invalid parameter %s: %q", name, value)
		}
	}
	return nil
}

func setField(f reflect.Value, s string) error {
	//nolint:exhaustive // Only the kinds used by request structs are supported
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return errors.New("unsupported parameter type")
	}
	return nil
}

// writeError writes err as a JSON error response with the status and code
// it carries; other errors are internal errors.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	code := apierrors.ErrInternal
	var details map[string]any
	var ewsErr apierrors.ErrorWithStatus
	if errors.As(err, &ewsErr) {
		statusCode = ewsErr.StatusCode()
		code = ewsErr.Code()
		details = ewsErr.Details()
	}
	if statusCode >= 500 {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", code)
	} else {
		slog.DebugContext(ctx, "Handler error", "err", err, "statusCode", statusCode, "code", code)
	}
	writeErrorResponseWithCode(w, statusCode, code, err.Error(), details)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apierrors.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if len(details) > 0 {
		response["details"] = details
	}
	_ = json.NewEncoder(w).Encode(response)
}
