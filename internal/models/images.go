package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageFields are the structured tags of a cataloged image.
// They are stored as the record's metadata and embedded into the image bytes.
type ImageFields struct {
	Filename    string    `json:"filename"`
	Description string    `json:"description"`
	Brand       string    `json:"brand"`
	Materials   []string  `json:"materials"`
	Process     []string  `json:"process"`
	Mechanism   string    `json:"mechanism"`
	Project     string    `json:"project"`
	Person      string    `json:"person"`
	Timestamp   time.Time `json:"timestamp"`
}

// ImageRecord is one cataloged image: identity, structured fields and derived search artifacts.
type ImageRecord struct {
	ID    uuid.UUID `json:"id"`
	S3URI string    `json:"s3_uri"`
	ImageFields

	CanonicalText string    `json:"canonical_text"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ImageMetadata is the JSON document persisted in image_records.metadata.
type ImageMetadata struct {
	ImageFields

	S3URI string `json:"s3_uri"`
}

// Metadata returns the record's persisted metadata document.
func (r *ImageRecord) Metadata() ImageMetadata {
	return ImageMetadata{ImageFields: r.ImageFields, S3URI: r.S3URI}
}

// FieldsPatch carries the subset of fields a caller wants to change.
// Nil pointers keep the prior value.
type FieldsPatch struct {
	Description *string   `json:"description,omitempty" validate:"omitempty,no_null_bytes"`
	Brand       *string   `json:"brand,omitempty"       validate:"omitempty,no_null_bytes"`
	Materials   *[]string `json:"materials,omitempty"`
	Process     *[]string `json:"process,omitempty"`
	Mechanism   *string   `json:"mechanism,omitempty"   validate:"omitempty,no_null_bytes"`
	Project     *string   `json:"project,omitempty"     validate:"omitempty,no_null_bytes"`
	Person      *string   `json:"person,omitempty"      validate:"omitempty,no_null_bytes"`
}

// Apply merges the patch over base and returns the merged fields. base is not modified.
func (p FieldsPatch) Apply(base ImageFields) ImageFields {
	merged := base
	merged.Materials = cloneStrings(base.Materials)
	merged.Process = cloneStrings(base.Process)

	if p.Description != nil {
		merged.Description = *p.Description
	}

	if p.Brand != nil {
		merged.Brand = *p.Brand
	}

	if p.Materials != nil {
		merged.Materials = cloneStrings(*p.Materials)
	}

	if p.Process != nil {
		merged.Process = cloneStrings(*p.Process)
	}

	if p.Mechanism != nil {
		merged.Mechanism = *p.Mechanism
	}

	if p.Project != nil {
		merged.Project = *p.Project
	}

	if p.Person != nil {
		merged.Person = *p.Person
	}

	return merged
}

// IsEmpty reports whether the patch changes nothing.
func (p FieldsPatch) IsEmpty() bool {
	return p.Description == nil && p.Brand == nil && p.Materials == nil && p.Process == nil &&
		p.Mechanism == nil && p.Project == nil && p.Person == nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}

	out := make([]string, len(in))
	copy(out, in)

	return out
}

// KeywordHit is one full-text candidate; Rank is higher for better matches.
type KeywordHit struct {
	ID   uuid.UUID
	Rank float64
}

// VectorHit is one semantic candidate with its cosine distance (0 identical, 2 opposite).
type VectorHit struct {
	Record   ImageRecord
	Distance float64
}

// UpdateMarker records an update that started but has not finished re-indexing.
type UpdateMarker struct {
	S3URI     string
	Fields    ImageFields
	StartedAt time.Time
}
