package claimstore

import "xdao.co/claimstore/canonical"

// Predicate filters observed claims by their top-level data attributes.
// A claim matches when every key is present in its data with a non-null
// value and, unless the predicate value is nil (wildcard), canonically
// equal to it. An empty predicate matches everything.
type Predicate map[string]any

func (p Predicate) Matches(data any) bool {
	if len(p) == 0 {
		return true
	}
	m, ok := data.(map[string]any)
	if !ok {
		return false
	}
	for k, want := range p {
		got, ok := m[k]
		if !ok || got == nil {
			return false
		}
		if want != nil && !canonical.Equal(want, got) {
			return false
		}
	}
	return true
}
