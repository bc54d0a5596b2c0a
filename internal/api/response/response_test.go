package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechlib/catalog/internal/apperrors"
)

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		step   string
	}{
		{"not found", apperrors.NewNotFoundError("image", "no image"), http.StatusNotFound, ""},
		{"validation", apperrors.NewValidationError("k", "too big"), http.StatusBadRequest, ""},
		{"conflict", apperrors.NewConflictError("changed"), http.StatusConflict, ""},
		{
			"external service names the step",
			apperrors.NewExternalServiceError(apperrors.StepWriteTags, errors.New("exit 1")),
			http.StatusBadGateway, "write_tags",
		},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var problem ProblemDetails
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&problem))
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, tt.step, problem.Step)
		})
	}
}
