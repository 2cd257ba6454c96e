package change

import (
	"fmt"
	"strings"
)

// Pattern is a document path template such as
// "countries/{country}/products/{productId}". Literal segments must match
// exactly; {name} segments capture one path segment each.
type Pattern struct {
	raw      string
	segments []string
	params   []string
}

// Keys is the ordered tuple of values captured by a Pattern.
type Keys struct {
	names  []string
	values []string
}

// Get returns the value captured for name, or "".
func (k Keys) Get(name string) string {
	for i, n := range k.names {
		if n == name {
			return k.values[i]
		}
	}
	return ""
}

// Values returns the captured values in pattern order.
func (k Keys) Values() []string {
	return append([]string(nil), k.values...)
}

// NewKeys builds Keys from parallel name/value slices.
func NewKeys(names, values []string) Keys {
	return Keys{names: names, values: values}
}

func (k Keys) String() string {
	parts := make([]string, len(k.names))
	for i := range k.names {
		parts[i] = k.names[i] + "=" + k.values[i]
	}
	return strings.Join(parts, ",")
}

// ParsePattern compiles a path template.
func ParsePattern(raw string) (*Pattern, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	p := &Pattern{raw: trimmed, segments: strings.Split(trimmed, "/")}
	seen := make(map[string]bool)
	for _, seg := range p.segments {
		if seg == "" {
			return nil, fmt.Errorf("pattern %q has an empty segment", raw)
		}
		if name, ok := paramName(seg); ok {
			if name == "" {
				return nil, fmt.Errorf("pattern %q has an unnamed parameter", raw)
			}
			if seen[name] {
				return nil, fmt.Errorf("pattern %q repeats parameter %q", raw, name)
			}
			seen[name] = true
			p.params = append(p.params, name)
		}
	}
	return p, nil
}

// MustPattern is ParsePattern for package-level templates.
func MustPattern(raw string) *Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func paramName(seg string) (string, bool) {
	if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

func (p *Pattern) String() string {
	return p.raw
}

// Params returns the parameter names in order.
func (p *Pattern) Params() []string {
	return append([]string(nil), p.params...)
}

// Match reports whether path is an instance of the pattern and returns the
// captured keys.
func (p *Pattern) Match(path string) (Keys, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) != len(p.segments) {
		return Keys{}, false
	}
	values := make([]string, 0, len(p.params))
	for i, seg := range p.segments {
		if _, ok := paramName(seg); ok {
			if segs[i] == "" {
				return Keys{}, false
			}
			values = append(values, segs[i])
			continue
		}
		if seg != segs[i] {
			return Keys{}, false
		}
	}
	return Keys{names: p.params, values: values}, true
}

// Expand substitutes keys into the pattern's parameters by name.
func (p *Pattern) Expand(keys Keys) (string, error) {
	out := make([]string, len(p.segments))
	for i, seg := range p.segments {
		name, ok := paramName(seg)
		if !ok {
			out[i] = seg
			continue
		}
		v := keys.Get(name)
		if v == "" {
			return "", fmt.Errorf("missing key %q for %s", name, p.raw)
		}
		out[i] = v
	}
	return strings.Join(out, "/"), nil
}
