// Package objectstore stores image bytes in S3-compatible object storage.
package objectstore

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrInvalidURI is returned for URIs that are not of the form s3://bucket/key.
var ErrInvalidURI = errors.New("invalid s3 uri")

// ErrObjectNotFound is returned when the addressed object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// SupportedExtensions lists the image extensions accepted for upload, lower-case.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// IsSupported reports whether name has a supported image extension (case-insensitive).
func IsSupported(name string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(name)))
}

// KeyFor returns the object key for filename under an optional directory prefix.
// Leading and trailing slashes of the directory are ignored.
func KeyFor(directory, filename string) string {
	dir := strings.Trim(directory, "/")
	if dir == "" {
		return filename
	}

	return path.Join(dir, filename)
}

// URI renders the s3://bucket/key form.
func URI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

// ParseURI splits s3://bucket/key into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	return bucket, key, nil
}

// ContentType returns the MIME type for the key's extension.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))

	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
