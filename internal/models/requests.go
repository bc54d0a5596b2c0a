package models

// SearchRequest is the body for POST /v1/images/search.
// Optional fields are pointers so the service can tell "unset" from zero.
type SearchRequest struct {
	Query          string   `json:"query"           validate:"required,no_null_bytes"`
	K              int      `json:"k"               validate:"gte=0"`
	ScoreThreshold *float64 `json:"score_threshold" validate:"omitempty,gte=0,lte=2"`
	UseHybrid      *bool    `json:"use_hybrid"`
	KeywordWeight  *float64 `json:"keyword_weight"  validate:"omitempty,gte=0,lte=1"`
}

// SearchResultItem is one search hit annotated with a presigned URL.
type SearchResultItem struct {
	URL   string `json:"url"`
	S3URI string `json:"s3_uri"`
	ImageFields

	DistanceScore float64 `json:"distance_score"`
}

// SearchResponse is the response for image search.
type SearchResponse struct {
	Results         []SearchResultItem `json:"results"`
	TotalCandidates int                `json:"total_candidates"`
	FilteredCount   int                `json:"filtered_count"`
	Message         string             `json:"message,omitempty"`
}

// UpdateMetadataRequest is the body for PUT /v1/images/metadata.
type UpdateMetadataRequest struct {
	S3URI string `json:"s3_uri" validate:"required,no_null_bytes"`
	FieldsPatch
}

// UpdateMetadataResponse echoes the fields the caller supplied.
type UpdateMetadataResponse struct {
	S3URI         string      `json:"s3_uri"`
	UpdatedFields FieldsPatch `json:"updated_fields"`
	Message       string      `json:"message"`
}

// DeleteImageRequest is the body for DELETE /v1/images.
type DeleteImageRequest struct {
	S3URI    string `json:"s3_uri"   validate:"required,no_null_bytes"`
	Filename string `json:"filename" validate:"required,no_null_bytes"`
}

// DeleteImageResponse reports the two independent deletions.
type DeleteImageResponse struct {
	DeletedFromBlobStore bool   `json:"deleted_from_blob_store"`
	DeletedFromIndex     bool   `json:"deleted_from_index"`
	Message              string `json:"message"`
}

// ProcessImagesRequest is the body for POST /v1/images/process.
// Paths are files or directories readable by the server.
type ProcessImagesRequest struct {
	Paths       []string `json:"paths"       validate:"required,min=1,dive,required,no_null_bytes"`
	Directory   string   `json:"directory"   validate:"omitempty,no_null_bytes"`
	Description string   `json:"description" validate:"required,no_null_bytes"`
	Brand       string   `json:"brand"       validate:"omitempty,no_null_bytes"`
	Materials   []string `json:"materials"`
	Process     []string `json:"process"`
	Mechanism   string   `json:"mechanism"   validate:"omitempty,no_null_bytes"`
	Project     string   `json:"project"     validate:"omitempty,no_null_bytes"`
	Person      string   `json:"person"      validate:"omitempty,no_null_bytes"`
}

// ProcessedImage is one file cataloged by a process request.
type ProcessedImage struct {
	Filename string `json:"filename"`
	S3URI    string `json:"s3_uri"`
}

// ProcessImagesResponse lists the cataloged files.
type ProcessImagesResponse struct {
	Processed []ProcessedImage `json:"processed"`
	Message   string           `json:"message"`
}

// GetImageParams are the query parameters for GET /v1/images.
type GetImageParams struct {
	S3URI string `form:"s3_uri" validate:"required,no_null_bytes"`
}

// ImageResponse is a stored record with a presigned URL.
type ImageResponse struct {
	URL string `json:"url"`
	ImageRecord
}
