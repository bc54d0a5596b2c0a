// Package canonical renders an image record's structured fields into the single text
// used for both embedding and full-text indexing.
package canonical

import (
	"strings"

	"github.com/mechlib/catalog/internal/models"
)

// Version identifies the field order and delimiters produced by Build.
// Bump it when the layout changes; stored texts built with another version must be re-indexed.
const Version = 1

const listDelimiter = ","

// Build renders fields as
//
//	{description} Tags: [filename:..., brand:..., materials:a,b, process:x,y, mechanism:..., project:..., person:...]
//
// The output depends only on the field values. Timestamp is not rendered.
func Build(f models.ImageFields) string {
	tags := [...]string{
		"filename:" + clean(f.Filename),
		"brand:" + clean(f.Brand),
		"materials:" + joinList(f.Materials),
		"process:" + joinList(f.Process),
		"mechanism:" + clean(f.Mechanism),
		"project:" + clean(f.Project),
		"person:" + clean(f.Person),
	}

	var b strings.Builder

	b.WriteString(clean(f.Description))
	b.WriteString(" Tags: [")
	b.WriteString(strings.Join(tags[:], ", "))
	b.WriteString("]")

	return b.String()
}

func joinList(items []string) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s := clean(item); s != "" {
			parts = append(parts, s)
		}
	}

	return strings.Join(parts, listDelimiter)
}

// clean trims surrounding whitespace and collapses internal runs so that
// formatting noise in the input cannot change the text.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
