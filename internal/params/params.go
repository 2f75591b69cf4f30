// Package params maps debug parameter sets onto page URLs. A debug
// parameter is enabled when its name is present in the query string with
// an empty value, and disabled when absent.
package params

import (
	"net/url"
	"sort"
	"strings"
)

// Set is a set of parameter names.
type Set map[string]struct{}

// NewSet returns a set holding the given names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name and reports whether it was not already present.
func (s Set) Add(name string) bool {
	if s.Has(name) {
		return false
	}
	s[name] = struct{}{}
	return true
}

// Remove deletes name and reports whether it was present.
func (s Set) Remove(name string) bool {
	if !s.Has(name) {
		return false
	}
	delete(s, name)
	return true
}

func (s Set) Len() int { return len(s) }

// Equal compares membership only.
func (s Set) Equal(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for n := range s {
		if !o.Has(n) {
			return false
		}
	}
	return true
}

// Sorted returns the names in lexical order. Never nil.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s Set) Clone() Set {
	c := make(Set, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Union returns a new set holding the names of both sets.
func (s Set) Union(o Set) Set {
	u := s.Clone()
	for n := range o {
		u[n] = struct{}{}
	}
	return u
}

// parse accepts only absolute URLs. The query itself never fails the
// parse, the way a browser's search params never do.
func parse(raw string) (*url.URL, url.Values, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return nil, nil, false
	}
	if u.Host == "" && u.Opaque == "" && u.Path == "" {
		return nil, nil, false
	}
	return u, parseQuery(u.RawQuery), true
}

// parseQuery splits on '&' only. A ';' stays part of the value and a bad
// escape keeps its literal text.
func parseQuery(raw string) url.Values {
	q := url.Values{}
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		key = unescape(key)
		if key == "" {
			continue
		}
		q.Add(key, unescape(value))
	}
	return q
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// FromURL returns the names of the query parameters in raw. A malformed URL
// yields an empty set.
func FromURL(raw string) Set {
	_, q, ok := parse(raw)
	if !ok {
		return Set{}
	}
	s := make(Set, len(q))
	for k := range q {
		s[k] = struct{}{}
	}
	return s
}

// Apply rewrites the query of raw so that it holds exactly the names in
// desired, each with an empty value. Keys are emitted in sorted order, so
// applying the same set twice yields the same string. raw is returned
// unchanged when it cannot be parsed.
func Apply(raw string, desired Set) string {
	u, _, ok := parse(raw)
	if !ok {
		return raw
	}
	q := url.Values{}
	for n := range desired {
		q.Set(n, "")
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	if u.Path == "" && u.Opaque == "" && (u.Scheme == "http" || u.Scheme == "https") {
		u.Path = "/"
	}
	return u.String()
}

// NeedsUpdate reports whether the tab at raw has to be navigated to reflect
// desired. The decision compares name sets, never serialized strings, so
// key order differences do not cause reloads.
func NeedsUpdate(raw string, desired Set) (string, bool) {
	next := Apply(raw, desired)
	if next == raw || FromURL(raw).Equal(desired) {
		return raw, false
	}
	return next, true
}

// MergeOnNavigate keeps sticky parameters on a tab while it navigates. The
// sticky names missing from the navigation target are added with empty
// values; the target's own query values are preserved. A new URL is
// returned only when names were added.
func MergeOnNavigate(raw string, sticky Set) (string, bool) {
	if sticky.Len() == 0 {
		return raw, false
	}
	u, q, ok := parse(raw)
	if !ok {
		return raw, false
	}
	added := false
	for n := range sticky {
		if _, present := q[n]; !present {
			q.Set(n, "")
			added = true
		}
	}
	if !added {
		return raw, false
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	if u.Path == "" && u.Opaque == "" && (u.Scheme == "http" || u.Scheme == "https") {
		u.Path = "/"
	}
	next := u.String()
	if next == raw {
		return raw, false
	}
	return next, true
}
