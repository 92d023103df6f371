package permission

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Scope is a single permitted action token, e.g. "mail.send".
type Scope string

// Well-known scopes of the built-in providers.
const (
	ScopeMailSend    Scope = "mail.send"
	ScopeMailRead    Scope = "mail.read"
	ScopeSearchQuery Scope = "search.query"
)

var scopePattern = regexp.MustCompile(`^[a-z0-9_-]+(\.[a-z0-9_-]+)*$`)

// ParseScope validates a raw scope token.
func ParseScope(raw string) (Scope, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty scope", ErrInvalidScope)
	}
	if !scopePattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return Scope(s), nil
}

// SanitizeScope turns an arbitrary identifier into a valid scope token by
// lowercasing it and replacing every disallowed character with '_'.
func SanitizeScope(raw string) Scope {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	if s == "" {
		s = "_"
	}
	return Scope(s)
}

// ScopeSet is an ordered set of scopes. The zero value is an empty set.
type ScopeSet struct {
	items []Scope
	index map[Scope]struct{}
}

// NewScopeSet builds a set keeping the first occurrence order of scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	set := ScopeSet{index: make(map[Scope]struct{}, len(scopes))}
	for _, s := range scopes {
		if _, ok := set.index[s]; ok {
			continue
		}
		set.index[s] = struct{}{}
		set.items = append(set.items, s)
	}
	return set
}

// ParseScopeSet validates every raw token and builds a set.
func ParseScopeSet(raw []string) (ScopeSet, error) {
	scopes := make([]Scope, 0, len(raw))
	for _, r := range raw {
		s, err := ParseScope(r)
		if err != nil {
			return ScopeSet{}, err
		}
		scopes = append(scopes, s)
	}
	return NewScopeSet(scopes...), nil
}

// Len returns the number of scopes in the set.
func (s ScopeSet) Len() int {
	return len(s.items)
}

// Contains reports whether scope is a member of the set.
func (s ScopeSet) Contains(scope Scope) bool {
	_, ok := s.index[scope]
	return ok
}

// ContainsAll reports whether s is a superset of other.
func (s ScopeSet) ContainsAll(other ScopeSet) bool {
	return len(s.Missing(other)) == 0
}

// Missing returns the scopes of required that are not in s, in required's order.
func (s ScopeSet) Missing(required ScopeSet) []Scope {
	var missing []Scope
	for _, scope := range required.items {
		if !s.Contains(scope) {
			missing = append(missing, scope)
		}
	}
	return missing
}

// Scopes returns a copy of the members in insertion order.
func (s ScopeSet) Scopes() []Scope {
	out := make([]Scope, len(s.items))
	copy(out, s.items)
	return out
}

// Strings returns the members as plain strings in insertion order.
func (s ScopeSet) Strings() []string {
	out := make([]string, len(s.items))
	for i, scope := range s.items {
		out[i] = string(scope)
	}
	return out
}

// Sorted returns the members as sorted strings.
func (s ScopeSet) Sorted() []string {
	out := s.Strings()
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a JSON array.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a JSON array of scope tokens.
func (s *ScopeSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseScopeSet(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
