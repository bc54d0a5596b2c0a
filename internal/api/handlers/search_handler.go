package handlers

import (
	"context"
	"net/http"

	"github.com/mechlib/catalog/internal/api/response"
	"github.com/mechlib/catalog/internal/api/validation"
	"github.com/mechlib/catalog/internal/models"
)

// SearchService defines the interface for image search.
type SearchService interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
}

// SearchHandler handles HTTP requests for image search.
type SearchHandler struct {
	service SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

// Search handles POST /v1/images/search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	res, err := h.service.Search(r.Context(), req)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}
