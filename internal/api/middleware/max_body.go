package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mechlib/catalog/internal/api/response"
)

// BodyTooLargeRecorder records requests rejected for exceeding the body limit. Nil when metrics are disabled.
type BodyTooLargeRecorder interface {
	RecordRequestBodyTooLarge(ctx context.Context)
}

// MaxBody limits request bodies to maxBytes and answers 413 when a handler read past the limit.
// Responses to POST, PUT and PATCH are buffered so the 413 can replace whatever the handler wrote;
// other methods stream. maxBytes <= 0 disables the limit.
func MaxBody(maxBytes int64, recorder BodyTooLargeRecorder) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := &limitedBody{ReadCloser: http.MaxBytesReader(w, r.Body, maxBytes)}
			r.Body = body

			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				next.ServeHTTP(w, r)

				return
			}

			buf := &bufferedResponse{ResponseWriter: w}
			next.ServeHTTP(buf, r)

			if !body.exceeded {
				buf.flush()

				return
			}

			if recorder != nil {
				recorder.RecordRequestBodyTooLarge(r.Context())
			}

			response.RespondError(w, http.StatusRequestEntityTooLarge,
				"Request Entity Too Large", fmt.Sprintf("request body exceeds %d bytes", maxBytes))
		})
	}
}

// limitedBody notes whether the MaxBytesReader limit was hit.
type limitedBody struct {
	io.ReadCloser

	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}

	return n, err //nolint:wrapcheck // io.EOF must reach decoders unwrapped
}

// bufferedResponse holds the status and body until the handler finishes.
type bufferedResponse struct {
	http.ResponseWriter

	status int
	buf    bytes.Buffer
}

func (b *bufferedResponse) WriteHeader(code int) {
	b.status = code
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	return b.buf.Write(p) //nolint:wrapcheck // bytes.Buffer never fails
}

func (b *bufferedResponse) flush() {
	if b.status != 0 {
		b.ResponseWriter.WriteHeader(b.status)
	}

	_, _ = b.buf.WriteTo(b.ResponseWriter)
}
