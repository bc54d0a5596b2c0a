// Package tagging embeds catalog fields into image files as XMP tags using exiftool.
package tagging

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mechlib/catalog/internal/models"
)

//go:embed mechlib.config
var defaultConfig []byte

// timestampLayout is the exiftool XMP date format.
const timestampLayout = "2006:01:02 15:04:05-07:00"

const tagGroup = "XMP-mechlib"

// ErrExiftool is returned when exiftool exits unsuccessfully or produces unreadable output.
var ErrExiftool = errors.New("exiftool failed")

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExiftoolTagger writes and reads the mechlib XMP namespace.
type ExiftoolTagger struct {
	binary     string
	configPath string
	run        runFunc
}

// NewExiftoolTagger creates a tagger. When configPath is empty, the built-in namespace definition is
// written to scratchDir and used.
func NewExiftoolTagger(binary, configPath, scratchDir string) (*ExiftoolTagger, error) {
	if binary == "" {
		binary = "exiftool"
	}

	if configPath == "" {
		if scratchDir == "" {
			scratchDir = os.TempDir()
		}

		configPath = filepath.Join(scratchDir, "mechlib.ExifTool_config")
		if err := os.WriteFile(configPath, defaultConfig, 0o600); err != nil {
			return nil, fmt.Errorf("write exiftool config: %w", err)
		}
	}

	return &ExiftoolTagger{binary: binary, configPath: configPath, run: runCommand}, nil
}

// WriteTags replaces the mechlib tags of the file at path with fields. The file is modified in place.
func (t *ExiftoolTagger) WriteTags(ctx context.Context, path string, fields models.ImageFields) error {
	if _, err := t.run(ctx, t.binary, writeArgs(t.configPath, path, fields)...); err != nil {
		return err
	}

	slog.Debug("tags written", "path", path)

	return nil
}

// ReadTags returns the mechlib tags stored in the file at path. Filename is not part of the tags.
func (t *ExiftoolTagger) ReadTags(ctx context.Context, path string) (models.ImageFields, error) {
	out, err := t.run(ctx, t.binary, "-config", t.configPath, "-j", "-"+tagGroup+":all", path)
	if err != nil {
		return models.ImageFields{}, err
	}

	return parseTags(out)
}

func writeArgs(configPath, path string, f models.ImageFields) []string {
	tag := func(name, value string) string {
		return "-" + tagGroup + ":" + name + "=" + value
	}

	args := []string{
		"-config", configPath,
		tag("Description", f.Description),
		tag("Brand", f.Brand),
		tag("Mechanism", f.Mechanism),
		tag("Project", f.Project),
		tag("Person", f.Person),
	}

	// An empty assignment clears a list; repeated assignments build it item by item.
	for _, name := range []string{"Materials", "Process"} {
		items := f.Materials
		if name == "Process" {
			items = f.Process
		}

		if len(items) == 0 {
			args = append(args, tag(name, ""))

			continue
		}

		for _, item := range items {
			args = append(args, tag(name, item))
		}
	}

	if !f.Timestamp.IsZero() {
		args = append(args, tag("Timestamp", f.Timestamp.Format(timestampLayout)))
	}

	return append(args, "-overwrite_original", path)
}

func parseTags(out []byte) (models.ImageFields, error) {
	var docs []map[string]json.RawMessage
	if err := json.Unmarshal(out, &docs); err != nil {
		return models.ImageFields{}, fmt.Errorf("%w: decode output: %w", ErrExiftool, err)
	}

	if len(docs) == 0 {
		return models.ImageFields{}, fmt.Errorf("%w: no output", ErrExiftool)
	}

	doc := docs[0]
	f := models.ImageFields{
		Description: scalar(doc["Description"]),
		Brand:       scalar(doc["Brand"]),
		Materials:   list(doc["Materials"]),
		Process:     list(doc["Process"]),
		Mechanism:   scalar(doc["Mechanism"]),
		Project:     scalar(doc["Project"]),
		Person:      scalar(doc["Person"]),
	}

	if ts := scalar(doc["Timestamp"]); ts != "" {
		parsed, err := time.Parse(timestampLayout, ts)
		if err != nil {
			slog.Warn("unparseable tag timestamp", "value", ts)
		} else {
			f.Timestamp = parsed
		}
	}

	return f, nil
}

// scalar renders a JSON string or number as text. exiftool emits numeric-looking values as numbers.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return strings.TrimSpace(string(raw))
}

// list accepts either a JSON array or a single value; exiftool collapses one-item lists.
func list(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if v := scalar(raw); v != "" {
			return []string{v}
		}

		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, scalar(item))
	}

	return out
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %w: %s", ErrExiftool, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}
