// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/poiesic/docportal/core"
)

// Extractor turns raw document bytes into normalized text.
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns the normalized text of data.
	// Fails with core.ErrUnsupportedFormat or core.ErrExtractionFailed.
	Extract(ctx context.Context, data []byte, format string) (string, error)
}

// FormatExtractor converts a single family of formats.
type FormatExtractor interface {
	// Formats lists the format names handled, lower case.
	Formats() []string
	// ExtractText returns the raw text of data, before normalization.
	ExtractText(data []byte) (string, error)
}

// Registry dispatches to a FormatExtractor by format name and normalizes the
// result. The zero value is not usable; use NewRegistry.
type Registry struct {
	byFormat map[string]FormatExtractor
	logger   *slog.Logger
}

var _ Extractor = (*Registry)(nil)

// NewRegistry creates a registry with the plaintext, markdown and HTML
// extractors plus any extra ones. Later registrations win.
func NewRegistry(extra ...FormatExtractor) *Registry {
	r := &Registry{
		byFormat: make(map[string]FormatExtractor),
		logger:   slog.Default().With("component", "extractor"),
	}
	for _, fe := range append([]FormatExtractor{PlainText{}, Markdown{}, HTML{}}, extra...) {
		r.Register(fe)
	}
	return r
}

// Register adds fe for each of its formats.
func (r *Registry) Register(fe FormatExtractor) {
	for _, f := range fe.Formats() {
		r.byFormat[strings.ToLower(f)] = fe
	}
}

// Formats returns the registered format names, sorted.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.byFormat))
	for f := range r.byFormat {
		formats = append(formats, f)
	}
	slices.Sort(formats)
	return formats
}

// Supports reports whether format has a registered extractor.
func (r *Registry) Supports(format string) bool {
	_, ok := r.byFormat[canonicalFormat(format)]
	return ok
}

// Extract implements Extractor.
func (r *Registry) Extract(ctx context.Context, data []byte, format string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fe, ok := r.byFormat[canonicalFormat(format)]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: input is not valid UTF-8", core.ErrExtractionFailed)
	}
	text, err := fe.ExtractText(data)
	if err != nil {
		r.logger.Warn("extraction failed", "format", format, "err", err)
		return "", fmt.Errorf("%w: %w", core.ErrExtractionFailed, err)
	}
	return Normalize(text), nil
}

// FormatFromPath infers a format name from a file extension.
func FormatFromPath(path string) string {
	return canonicalFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func canonicalFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes text for chunking: Unicode NFC, LF line endings,
// no trailing spaces, at most one blank line in a row, trimmed ends.
func Normalize(text string) string {
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
