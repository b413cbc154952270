package guardrails

import (
	"encoding/json"
	"fmt"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// tombstone marks a sequence element scheduled for removal. Elements are
// marked first and swept afterwards so indices in later paths stay valid.
type tombstone struct{}

// ApplyModifications applies modify diffs to a deep copy of rc and returns
// the copy. rc itself is never mutated. Paths that no longer resolve are
// skipped, so applying the same diffs twice is harmless.
func ApplyModifications(rc models.RequestContext, diffs []models.ModificationDiff) (models.RequestContext, error) {
	doc, err := deepCopyContext(rc)
	if err != nil {
		return rc, err
	}

	for _, d := range diffs {
		for _, removed := range d.RemovedPaths {
			path, err := ParsePath(removed)
			if err != nil {
				return rc, fmt.Errorf("apply %s on %s: %w", d.ModificationType, d.Target, err)
			}
			if len(path) < 2 {
				return rc, fmt.Errorf("apply %s: refusing to remove root %q", d.ModificationType, removed)
			}
			parent := Resolve(doc, path[:len(path)-1])
			if !parent.Found {
				continue
			}
			last := path[len(path)-1]
			switch last.Kind {
			case StepField:
				if obj, ok := parent.Value.(map[string]any); ok {
					delete(obj, last.Name)
				}
			case StepIndex:
				if arr, ok := parent.Value.([]any); ok && last.Index < len(arr) {
					arr[last.Index] = tombstone{}
				}
			}
		}
	}

	swept := sweep(doc).(map[string]any)
	out := models.RequestContext{Input: swept["input"]}
	if v, ok := swept["output"]; ok {
		out.Output = v
	}
	return out, nil
}

func deepCopyContext(rc models.RequestContext) (map[string]any, error) {
	data, err := json.Marshal(rc)
	if err != nil {
		return nil, fmt.Errorf("copy request context: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("copy request context: %w", err)
	}
	if _, ok := doc["input"]; !ok {
		doc["input"] = nil
	}
	return doc, nil
}

// sweep drops tombstoned elements from every sequence in v.
func sweep(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = sweep(e)
		}
		return t
	case []any:
		kept := make([]any, 0, len(t))
		for _, e := range t {
			if _, dead := e.(tombstone); dead {
				continue
			}
			kept = append(kept, sweep(e))
		}
		return kept
	default:
		return v
	}
}
