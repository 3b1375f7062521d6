package prompt_test

import (
	"strings"
	"testing"

	"github.com/wehubfusion/Arachne/pkg/prompt"
	"github.com/wehubfusion/Arachne/pkg/record"
)

func newRenderer(t *testing.T, content, request string, fields, outputs []string) *prompt.Renderer {
	t.Helper()
	r, err := prompt.NewRenderer(content, request, fields, outputs)
	if err != nil {
		t.Fatalf("Expected renderer to be created: %v", err)
	}
	return r
}

func TestNewRendererValidation(t *testing.T) {
	if _, err := prompt.NewRenderer("", "{{content}}", nil, []string{"a"}); err == nil {
		t.Error("Expected error for empty content template")
	}
	if _, err := prompt.NewRenderer("x", "", nil, []string{"a"}); err == nil {
		t.Error("Expected error for empty request template")
	}
	if _, err := prompt.NewRenderer("x", "{{content}}", nil, nil); err == nil {
		t.Error("Expected error for empty output fields")
	}
}

func TestContentSubstitution(t *testing.T) {
	r := newRenderer(t,
		"Name: {name}, City: {city}",
		"{{content}}",
		[]string{"name", "city"},
		[]string{"summary"},
	)
	rec := record.New().Set("name", "Ada").Set("city", "London").Set("age", "36")

	got := r.Content(rec)
	want := "Name: Ada, City: London"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestContentLeavesUnselectedPlaceholders(t *testing.T) {
	r := newRenderer(t,
		"{name} works at {company}",
		"{{content}}",
		[]string{"name"},
		[]string{"summary"},
	)
	rec := record.New().Set("name", "Ada").Set("company", "Analytical Engines")

	got := r.Content(rec)
	if got != "Ada works at {company}" {
		t.Errorf("Expected unselected placeholder to stay verbatim, got %q", got)
	}
}

func TestContentMissingFieldSubstitutesEmpty(t *testing.T) {
	r := newRenderer(t,
		"Name: {name}.",
		"{{content}}",
		[]string{"name"},
		[]string{"summary"},
	)

	got := r.Content(record.New())
	if got != "Name: ." {
		t.Errorf("Expected empty substitution for missing field, got %q", got)
	}
}

func TestContentAllFieldsWhenNoneSelected(t *testing.T) {
	r := newRenderer(t,
		"{b}-{a}",
		"{{content}}",
		nil,
		[]string{"summary"},
	)
	rec := record.New().Set("a", "1").Set("b", "2")

	got := r.Content(rec)
	if got != "2-1" {
		t.Errorf("Expected all record fields substituted, got %q", got)
	}
}

func TestContentRepeatedPlaceholder(t *testing.T) {
	r := newRenderer(t,
		"{name} and {name} again",
		"{{content}}",
		[]string{"name"},
		[]string{"summary"},
	)
	rec := record.New().Set("name", "Ada")

	got := r.Content(rec)
	if got != "Ada and Ada again" {
		t.Errorf("Expected every occurrence replaced, got %q", got)
	}
}

func TestPromptEmbedsContentAndInstruction(t *testing.T) {
	r := newRenderer(t,
		"Row: {id}",
		"Analyze the following.\n\n{{content}}\n\nBe brief.",
		[]string{"id"},
		[]string{"tone", "summary"},
	)
	rec := record.New().Set("id", "42")

	got := r.Prompt(rec)
	if !strings.Contains(got, "Analyze the following.\n\nRow: 42\n\nBe brief.") {
		t.Errorf("Expected content embedded in request template, got %q", got)
	}
	if strings.Contains(got, prompt.ContentPlaceholder) {
		t.Error("Expected content placeholder to be fully substituted")
	}
	// The format instruction enumerates the expected fields sorted.
	if !strings.Contains(got, `{"summary": "...", "tone": "..."}`) {
		t.Errorf("Expected sorted field instruction, got %q", got)
	}
	if !strings.Contains(got, "single, valid JSON object") {
		t.Errorf("Expected the JSON format instruction, got %q", got)
	}
}

func TestPromptDeterministic(t *testing.T) {
	r := newRenderer(t,
		"{x} {y}",
		"{{content}}",
		nil,
		[]string{"b", "a", "c"},
	)
	rec := record.New().Set("x", "1").Set("y", "2")

	first := r.Prompt(rec)
	for i := 0; i < 50; i++ {
		if got := r.Prompt(rec); got != first {
			t.Fatalf("Expected identical prompts across renders, got %q then %q", first, got)
		}
	}
}
