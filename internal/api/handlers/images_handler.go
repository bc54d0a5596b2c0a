package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mechlib/catalog/internal/api/response"
	"github.com/mechlib/catalog/internal/api/validation"
	"github.com/mechlib/catalog/internal/models"
	"github.com/mechlib/catalog/internal/service"
)

// ImagesService defines the catalog operations behind /v1/images.
type ImagesService interface {
	Process(ctx context.Context, paths []string, directory string, fields models.ImageFields) ([]models.ProcessedImage, error)
	Get(ctx context.Context, s3URI string) (*models.ImageRecord, error)
	Presign(ctx context.Context, s3URI string) (string, error)
	Update(ctx context.Context, s3URI string, patch models.FieldsPatch) (*models.ImageRecord, error)
	Delete(ctx context.Context, s3URI string) (service.DeleteResult, error)
}

// ImagesHandler handles HTTP requests for cataloged images.
type ImagesHandler struct {
	service ImagesService
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(service ImagesService) *ImagesHandler {
	return &ImagesHandler{service: service}
}

// Process handles POST /v1/images/process.
// Paths are read from the server's filesystem; every file gets the same tags.
func (h *ImagesHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req models.ProcessImagesRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	fields := models.ImageFields{
		Description: req.Description,
		Brand:       req.Brand,
		Materials:   req.Materials,
		Process:     req.Process,
		Mechanism:   req.Mechanism,
		Project:     req.Project,
		Person:      req.Person,
	}

	processed, err := h.service.Process(r.Context(), req.Paths, req.Directory, fields)
	if err != nil {
		problem := response.ServiceProblem(r, err)
		if len(processed) > 0 {
			problem.Processed = processed
		}

		response.RespondProblem(w, problem)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.ProcessImagesResponse{
		Processed: processed,
		Message:   "Images processed and uploaded successfully",
	})
}

// Get handles GET /v1/images?s3_uri=...
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	var params models.GetImageParams
	if err := validation.ValidateAndDecodeQueryParams(r, &params); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	rec, err := h.service.Get(r.Context(), params.S3URI)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	url, err := h.service.Presign(r.Context(), rec.S3URI)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.ImageResponse{URL: url, ImageRecord: *rec})
}

// UpdateMetadata handles PUT /v1/images/metadata.
func (h *ImagesHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateMetadataRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	if req.IsEmpty() {
		response.RespondBadRequest(w, "at least one field to update is required")

		return
	}

	if _, err := h.service.Update(r.Context(), req.S3URI, req.FieldsPatch); err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.UpdateMetadataResponse{
		S3URI:         req.S3URI,
		UpdatedFields: req.FieldsPatch,
		Message:       "Metadata updated successfully",
	})
}

// Delete handles DELETE /v1/images. Success covers partial deletion; the booleans say which store was cleaned.
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteImageRequest
	if err := validation.DecodeJSON(r, &req); err != nil {
		response.RespondBadRequest(w, err.Error())

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	res, err := h.service.Delete(r.Context(), req.S3URI)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	msg := fmt.Sprintf("Image '%s' deleted successfully", req.Filename)
	if res.Partial() {
		msg = fmt.Sprintf("Image '%s' partially deleted", req.Filename)
	}

	response.RespondJSON(w, http.StatusOK, models.DeleteImageResponse{
		DeletedFromBlobStore: res.DeletedFromBlobStore,
		DeletedFromIndex:     res.DeletedFromIndex,
		Message:              msg,
	})
}
