package jcrom

import (
	"path"
	"strings"
)

// NameFilter decides whether a child name participates in a mapping pass.
// A filter is an ordered, comma-separated pattern list; a leading '-' excludes,
// a leading '+' (optional) includes. The first matching pattern wins. A list
// containing any inclusion pattern defaults to exclude on no match; an
// exclusion-only list defaults to include. The empty filter includes everything.
type NameFilter struct {
	patterns []namePattern
	def      bool // result when no pattern matches
}

type namePattern struct {
	glob    string
	exclude bool
}

// ParseNameFilter compiles a filter spec like "title,body" or "-drafts*,-tmp".
func ParseNameFilter(spec string) NameFilter {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return NameFilter{def: true}
	}
	f := NameFilter{def: true}
	for _, raw := range strings.Split(spec, ",") {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		np := namePattern{glob: p}
		if strings.HasPrefix(p, "-") {
			np.exclude = true
			np.glob = p[1:]
		} else {
			np.glob = strings.TrimPrefix(p, "+")
			// any inclusion pattern flips the default to exclude
			f.def = false
		}
		f.patterns = append(f.patterns, np)
	}
	return f
}

// Include reports whether the name passes the filter.
func (f NameFilter) Include(name string) bool {
	for _, p := range f.patterns {
		ok, err := path.Match(p.glob, name)
		if err != nil || !ok {
			continue
		}
		return !p.exclude
	}
	return f.def
}

// IsEmpty reports whether the filter has no patterns.
func (f NameFilter) IsEmpty() bool { return len(f.patterns) == 0 }
