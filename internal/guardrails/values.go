package guardrails

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// ── Document normalisation ──────────────────────────────────

// contextDocument builds the document field paths resolve against.
// Output is omitted when absent so output.* paths resolve to NotFound.
func contextDocument(rc models.RequestContext) (map[string]any, error) {
	in, err := normalize(rc.Input)
	if err != nil {
		return nil, fmt.Errorf("normalize input: %w", err)
	}
	doc := map[string]any{"input": in}
	if rc.Output != nil {
		out, err := normalize(rc.Output)
		if err != nil {
			return nil, fmt.Errorf("normalize output: %w", err)
		}
		doc["output"] = out
	}
	return doc, nil
}

// normalize converts arbitrary Go values into the map[string]any / []any
// shape produced by encoding/json. Values already in that shape are reused.
func normalize(v any) (any, error) {
	if isJSONShaped(v) {
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isJSONShaped(v any) bool {
	switch t := v.(type) {
	case nil, string, bool, float64, json.Number:
		return true
	case map[string]any:
		for _, e := range t {
			if !isJSONShaped(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range t {
			if !isJSONShaped(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ── Coercions ───────────────────────────────────────────────

// toString renders a resolved value for the string operators.
func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// toNumber accepts only numeric kinds. Strings never coerce.
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// sizeOf returns the element count of strings (runes), sequences and mappings.
func sizeOf(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	case nil:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if n, ok := sizeOf(v); ok {
		return n == 0
	}
	return false
}

// valuesEqual compares numerically when both sides are numbers,
// otherwise by string rendering.
func valuesEqual(a, b any) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toString(a) == toString(b)
}

func compareNumbers(op models.Operator, got, want float64) bool {
	switch op {
	case models.OpGT, models.OpSizeGT:
		return got > want
	case models.OpLT, models.OpSizeLT:
		return got < want
	case models.OpGTE, models.OpSizeGTE:
		return got >= want
	case models.OpLTE, models.OpSizeLTE:
		return got <= want
	default:
		return false
	}
}

// ── Compile cache ───────────────────────────────────────────

// compileCache memoises compiled regular expressions and expression
// programs by source text. Entries are immutable once stored, so sharing
// across calls is safe.
type compileCache[T any] struct {
	mu    sync.RWMutex
	m     map[string]T
	limit int
	build func(string) (T, error)
}

func newCompileCache[T any](limit int, build func(string) (T, error)) *compileCache[T] {
	return &compileCache[T]{m: make(map[string]T), limit: limit, build: build}
}

var (
	patterns = newCompileCache(1024, regexp.Compile)
	programs = newCompileCache(512, compileExpr)
)

func (c *compileCache[T]) compile(src string) (T, error) {
	c.mu.RLock()
	v, ok := c.m[src]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.build(src)
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	if len(c.m) >= c.limit {
		c.m = make(map[string]T)
	}
	c.m[src] = v
	c.mu.Unlock()
	return v, nil
}
