package expand

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testResults() map[string]any {
	return map[string]any{
		"link": "http://x/logs/r1/log",
		"r1": map[string]any{
			"url":    "https://api.github.com/repos/x/y/statuses/abc",
			"id":     float64(42),
			"labels": []any{map[string]any{"name": "bot"}},
			"state":  "success",
		},
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"plain", "plain"},
		{":r1.url", "https://api.github.com/repos/x/y/statuses/abc"},
		{":r1.id", float64(42)},
		{":r1", testResults()["r1"]},
		{":r1.labels.0.name", "bot"},
		{"id is :r1.id.", "id is 42."},
		{"see :link for details", "see http://x/logs/r1/log for details"},
		{"::success", ":success"},
		{"a::b", "a:b"},
		{"https://example.com:8080/x", "https://example.com:8080/x"},
		{"12:30", "12:30"},
		{"trailing:", "trailing:"},
		{":", ":"},
		{"::", ":"},
		{"/repos/:r1.state/x", "/repos/success/x"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := String(tt.input, testResults())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("String(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestStringMissingPath(t *testing.T) {
	for _, input := range []string{":nope", ":r1.missing", "x :r1.url.deeper", ":r1.labels.5"} {
		if _, err := String(input, testResults()); err == nil {
			t.Errorf("String(%q): expected error", input)
		}
	}
}

func TestExpandNested(t *testing.T) {
	input := map[string]any{
		"state":       "::success",
		"target_url":  ":link",
		"description": "build :r1.id done",
		"nested":      []any{":r1.state", float64(3), true, nil},
	}
	got, err := Expand(input, testResults())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"state":       ":success",
		"target_url":  "http://x/logs/r1/log",
		"description": "build 42 done",
		"nested":      []any{"success", float64(3), true, nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}
	// The input is not modified.
	if input["target_url"] != ":link" {
		t.Errorf("input was modified: %v", input)
	}
}

func TestExpandNonStringScalars(t *testing.T) {
	for _, v := range []any{nil, true, float64(1.5)} {
		got, err := Expand(v, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(v, got); diff != "" {
			t.Errorf("Expand(%v) changed value: %s", v, diff)
		}
	}
}
