// Package prompt renders per-row prompts for the remote text-generation
// service. Rendering is pure string work: no I/O, no allocation beyond the
// result, deterministic for a given record.
package prompt

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/wehubfusion/Arachne/pkg/record"
)

// ContentPlaceholder is the slot in the request template that receives the
// rendered row content.
const ContentPlaceholder = "{{content}}"

// Renderer turns one Record into the final prompt sent to the remote
// service: the content template's {field} placeholders are substituted with
// row values, the result replaces the content placeholder of the request
// template, and a fixed instruction enumerating the expected output fields
// is appended so replies come back as a single JSON object.
type Renderer struct {
	contentTemplate string
	requestTemplate string
	fields          []string
	instruction     string
}

// NewRenderer creates a renderer. fields are the selected input fields
// whose placeholders are substituted (all record fields when empty);
// outputs are the expected output field names baked into the reply-format
// instruction.
func NewRenderer(contentTemplate, requestTemplate string, fields, outputs []string) (*Renderer, error) {
	if contentTemplate == "" {
		return nil, errors.New("content template cannot be empty")
	}
	if requestTemplate == "" {
		return nil, errors.New("request template cannot be empty")
	}
	if len(outputs) == 0 {
		return nil, errors.New("output fields cannot be empty")
	}
	return &Renderer{
		contentTemplate: contentTemplate,
		requestTemplate: requestTemplate,
		fields:          append([]string(nil), fields...),
		instruction:     formatInstruction(outputs),
	}, nil
}

// Content renders the content template for one record. Every occurrence of
// {field} is replaced with the record's value for that field, the empty
// string when absent.
func (r *Renderer) Content(rec record.Record) string {
	fields := r.fields
	if len(fields) == 0 {
		fields = rec.Fields()
	}
	content := r.contentTemplate
	for _, field := range fields {
		placeholder := "{" + field + "}"
		content = strings.ReplaceAll(content, placeholder, rec.Get(field))
	}
	return content
}

// Prompt renders the full prompt for one record: request template with the
// content placeholder substituted, plus the reply-format instruction.
func (r *Renderer) Prompt(rec record.Record) string {
	prompt := strings.ReplaceAll(r.requestTemplate, ContentPlaceholder, r.Content(rec))
	return prompt + r.instruction
}

// formatInstruction builds the fixed instruction demanding a single JSON
// object keyed by the expected output fields.
func formatInstruction(outputs []string) string {
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)

	pairs := make([]string, 0, len(sorted))
	for _, field := range sorted {
		pairs = append(pairs, fmt.Sprintf("%q: \"...\"", field))
	}
	return fmt.Sprintf("\n\nPlease provide the output in a single, valid JSON object format, like this: {%s}. Do not include any text or formatting outside of the JSON object.",
		strings.Join(pairs, ", "))
}
