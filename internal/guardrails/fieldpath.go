package guardrails

import (
	"fmt"
	"strconv"
	"strings"
)

// StepKind distinguishes the two kinds of path steps.
type StepKind int

const (
	StepField StepKind = iota
	StepIndex
)

// Step is one hop of a field path: a property name or a sequence index.
// Names may be any string; names that are not plain segments print in
// the quoted form ["name"].
type Step struct {
	Kind  StepKind
	Name  string
	Index int
}

// Path is a parsed field path such as input.messages[0].content.
type Path []Step

// Root returns the first property name of the path.
func (p Path) Root() string {
	if len(p) == 0 || p[0].Kind != StepField {
		return ""
	}
	return p[0].Name
}

// child returns a copy of p extended by s.
func (p Path) child(s Step) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, s)
}

func (p Path) String() string {
	var sb strings.Builder
	for i, s := range p {
		switch s.Kind {
		case StepField:
			if !isPlainSegment(s.Name) {
				sb.WriteByte('[')
				sb.WriteString(strconv.Quote(s.Name))
				sb.WriteByte(']')
				continue
			}
			if i > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(s.Name)
		case StepIndex:
			sb.WriteByte('[')
			sb.WriteString(strconv.Itoa(s.Index))
			sb.WriteByte(']')
		}
	}
	return sb.String()
}

// ParsePath parses the grammar segment(.segment|[index]|["name"])*.
// A segment is a run of letters, digits, '_' or '-'; an index is a
// non-negative decimal integer; a quoted name is a Go string literal and
// addresses keys holding spaces, dots or brackets.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}

	var path Path
	i := 0
	name, n := scanSegment(s, i)
	if n == 0 {
		return nil, fmt.Errorf("field path %q: expected segment at offset 0", s)
	}
	path = append(path, Step{Kind: StepField, Name: name})
	i += n

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			name, n := scanSegment(s, i)
			if n == 0 {
				return nil, fmt.Errorf("field path %q: expected segment at offset %d", s, i)
			}
			path = append(path, Step{Kind: StepField, Name: name})
			i += n
		case '[':
			i++
			if i < len(s) && s[i] == '"' {
				name, n, err := scanQuoted(s, i)
				if err != nil {
					return nil, err
				}
				path = append(path, Step{Kind: StepField, Name: name})
				i += n
				continue
			}
			start := i
			for i < len(s) && s[i] >= '0' && s[i] <= '9' {
				i++
			}
			if i == start || i >= len(s) || s[i] != ']' {
				return nil, fmt.Errorf("field path %q: malformed index at offset %d", s, start-1)
			}
			idx, err := strconv.Atoi(s[start:i])
			if err != nil {
				return nil, fmt.Errorf("field path %q: index out of range at offset %d", s, start)
			}
			path = append(path, Step{Kind: StepIndex, Index: idx})
			i++
		default:
			return nil, fmt.Errorf("field path %q: unexpected %q at offset %d", s, s[i], i)
		}
	}
	return path, nil
}

func scanSegment(s string, from int) (string, int) {
	i := from
	for i < len(s) && isSegmentByte(s[i]) {
		i++
	}
	return s[from:i], i - from
}

// scanQuoted reads `"name"]` at s[from:] and returns the name and the
// number of bytes consumed, closing bracket included.
func scanQuoted(s string, from int) (string, int, error) {
	lit, err := strconv.QuotedPrefix(s[from:])
	if err != nil || lit[0] != '"' {
		return "", 0, fmt.Errorf("field path %q: malformed quoted name at offset %d", s, from-1)
	}
	end := from + len(lit)
	if end >= len(s) || s[end] != ']' {
		return "", 0, fmt.Errorf("field path %q: expected ']' at offset %d", s, end)
	}
	name, err := strconv.Unquote(lit)
	if err != nil {
		return "", 0, fmt.Errorf("field path %q: malformed quoted name at offset %d", s, from-1)
	}
	return name, len(lit) + 1, nil
}

func isPlainSegment(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isSegmentByte(name[i]) {
			return false
		}
	}
	return true
}

func isSegmentByte(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Resolution is the outcome of walking a path through a document.
type Resolution struct {
	Value any
	Found bool

	// Ancestor is the deepest value reached. It equals Value when Found.
	Ancestor any
	// Depth is the number of steps successfully taken.
	Depth int
}

// Resolve walks path through a JSON-like document (maps, slices, scalars).
// Missing keys, out-of-range indices and non-container hops yield
// Found=false; it never panics.
func Resolve(doc any, path Path) Resolution {
	cur := doc
	for i, step := range path {
		next, ok := stepInto(cur, step)
		if !ok {
			return Resolution{Ancestor: cur, Depth: i}
		}
		cur = next
	}
	return Resolution{Value: cur, Found: true, Ancestor: cur, Depth: len(path)}
}

func stepInto(cur any, step Step) (any, bool) {
	switch step.Kind {
	case StepField:
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[step.Name]
		return v, ok
	case StepIndex:
		arr, ok := cur.([]any)
		if !ok || step.Index < 0 || step.Index >= len(arr) {
			return nil, false
		}
		return arr[step.Index], true
	default:
		return nil, false
	}
}
