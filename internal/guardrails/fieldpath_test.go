package guardrails_test

import (
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
)

func TestParsePath_Valid(t *testing.T) {
	tests := []struct {
		in    string
		root  string
		steps int
	}{
		{"input", "input", 1},
		{"input.prompt", "input", 2},
		{"input.messages[0].content", "input", 4},
		{"output.choices[12][3]", "output", 4},
		{"input.x-request_id.v2", "input", 3},
		{`input.headers["x forwarded"]`, "input", 3},
		{`input["a.b"][0]["x[1]"]`, "input", 4},
		{`input.user[""]`, "input", 3},
		{`input["say \"hi\""].v`, "input", 3},
	}
	for _, tt := range tests {
		p, err := guardrails.ParsePath(tt.in)
		if err != nil {
			t.Fatalf("ParsePath(%q) error = %v", tt.in, err)
		}
		if p.Root() != tt.root {
			t.Errorf("ParsePath(%q).Root() = %q, want %q", tt.in, p.Root(), tt.root)
		}
		if len(p) != tt.steps {
			t.Errorf("ParsePath(%q) has %d steps, want %d", tt.in, len(p), tt.steps)
		}
		if p.String() != tt.in {
			t.Errorf("ParsePath(%q).String() = %q", tt.in, p.String())
		}
	}
}

func TestParsePath_Invalid(t *testing.T) {
	for _, in := range []string{"", ".input", "input.", "input..a", "input[", "input[]", "input[x]", "input[0", "input[0]a", "in put", "input.[0]", "[0]",
		`input["a"`, `input["a"x]`, `input["a]`, `input['a']`, `["a"]`} {
		if _, err := guardrails.ParsePath(in); err == nil {
			t.Errorf("ParsePath(%q) expected error", in)
		}
	}
}

func TestResolve(t *testing.T) {
	doc := map[string]any{
		"input": map[string]any{
			"messages": []any{
				map[string]any{"role": "user", "content": "hi"},
			},
			"count": 3.0,
		},
	}

	mustPath := func(s string) guardrails.Path {
		p, err := guardrails.ParsePath(s)
		if err != nil {
			t.Fatalf("ParsePath(%q) error = %v", s, err)
		}
		return p
	}

	res := guardrails.Resolve(doc, mustPath("input.messages[0].content"))
	if !res.Found || res.Value != "hi" {
		t.Errorf("Resolve content = %+v, want found \"hi\"", res)
	}

	res = guardrails.Resolve(doc, mustPath("input.messages[0].missing"))
	if res.Found {
		t.Error("Resolve missing key: expected not found")
	}
	if res.Depth != 3 {
		t.Errorf("Resolve missing key depth = %d, want 3", res.Depth)
	}
	if m, ok := res.Ancestor.(map[string]any); !ok || m["role"] != "user" {
		t.Errorf("Resolve missing key ancestor = %v, want the message object", res.Ancestor)
	}

	if res := guardrails.Resolve(doc, mustPath("input.messages[5]")); res.Found {
		t.Error("Resolve out of range index: expected not found")
	}
	if res := guardrails.Resolve(doc, mustPath("input.count.deeper")); res.Found {
		t.Error("Resolve through scalar: expected not found")
	}
	if res := guardrails.Resolve(doc, mustPath("input.count[0]")); res.Found {
		t.Error("Resolve index on scalar: expected not found")
	}
	if res := guardrails.Resolve(doc, mustPath("output.text")); res.Found || res.Depth != 0 {
		t.Errorf("Resolve absent root = %+v, want not found at depth 0", res)
	}
}
