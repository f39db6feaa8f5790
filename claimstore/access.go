package claimstore

import (
	"slices"

	"xdao.co/claimstore/identity"
)

// AllowAttribute is the reserved payload attribute that carries an
// access grant: {"DISCIPL_ALLOW": {"scope": <link>, "did": <did>}}.
const AllowAttribute = "DISCIPL_ALLOW"

// AccessSpec is either public or an allow-list of accessor references.
// The zero value admits nobody but the owner.
type AccessSpec struct {
	Public  bool     `json:"public,omitempty" cbor:"public,omitempty"`
	Allowed []string `json:"allowed,omitempty" cbor:"allowed,omitempty"`
}

// Permits reports whether ref may read under this spec alone.
func (a AccessSpec) Permits(ref string) bool {
	if a.Public {
		return true
	}
	return ref != "" && slices.Contains(a.Allowed, ref)
}

// grant widens the spec. An empty ref makes it public; public specs never
// narrow again.
func (a *AccessSpec) grant(ref string) {
	if a.Public {
		return
	}
	if ref == "" {
		a.Public = true
		a.Allowed = nil
		return
	}
	if !slices.Contains(a.Allowed, ref) {
		a.Allowed = append(a.Allowed, ref)
	}
}

func (a AccessSpec) clone() AccessSpec {
	return AccessSpec{Public: a.Public, Allowed: slices.Clone(a.Allowed)}
}

// AccessGrant is the decoded DISCIPL_ALLOW attribute, or an out-of-band
// grant supplied with an imported claim.
//
// Scope is a claim link (or bare claim id); when it names a claim owned by
// the granting identity the grant applies to that claim only, otherwise to
// the whole channel. DID names the accessor (a did or a bare reference);
// empty means everyone.
type AccessGrant struct {
	Scope string `json:"scope,omitempty"`
	DID   string `json:"did,omitempty"`
}

// grantFromPayload extracts the reserved attribute from normalized claim
// data. ok is false when the payload carries no usable grant.
func grantFromPayload(data any) (g AccessGrant, ok bool) {
	m, isMap := data.(map[string]any)
	if !isMap {
		return AccessGrant{}, false
	}
	raw, present := m[AllowAttribute]
	if !present {
		return AccessGrant{}, false
	}
	spec, isMap := raw.(map[string]any)
	if !isMap {
		return AccessGrant{}, false
	}
	switch scope := spec["scope"].(type) {
	case nil:
	case string:
		g.Scope = scope
	default:
		return AccessGrant{}, false
	}
	switch did := spec["did"].(type) {
	case nil:
	case string:
		g.DID = did
	default:
		return AccessGrant{}, false
	}
	return g, true
}

// applyGrant widens the channel or claim access spec. The caller holds
// ch.mu.
func (s *Store) applyGrant(ch *channel, g AccessGrant) {
	target := &ch.access
	if g.Scope != "" {
		scoped := identity.ClaimIDFromLink(g.Scope)
		if sc, ok := ch.claims[scoped]; ok {
			target = &sc.Access
		}
	}
	target.grant(identity.ReferenceFromDID(g.DID))
}

// permitted is the two-step access check. The caller holds ch.mu.
func permitted(ch *channel, c *Claim, accessor string) bool {
	if accessor != "" && accessor == ch.owner {
		return true
	}
	return ch.access.Permits(accessor) || c.Access.Permits(accessor)
}
