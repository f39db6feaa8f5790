package model

// ClaimView is the externally visible form of a stored claim: its data and
// the id of the claim the same owner made before it ("" for the first).
type ClaimView struct {
	Data     any    `json:"data"`
	Previous string `json:"previous,omitempty"`
}

// Observed is one element of an observation stream.
type Observed struct {
	Claim    ClaimView `json:"claim"`
	OwnerRef string    `json:"ownerRef"`
	ClaimID  string    `json:"claimId"`
}

// WireClaim is the JSON shape of ClaimView on the stream, where an absent
// previous claim is an explicit null rather than an omitted key.
type WireClaim struct {
	Data     any     `json:"data"`
	Previous *string `json:"previous"`
}

// WireObserved is the JSON shape of Observed on the stream.
type WireObserved struct {
	Claim    WireClaim `json:"claim"`
	OwnerRef string    `json:"ownerRef"`
	ClaimID  string    `json:"claimId"`
}

// ToWire converts o to its stream encoding.
func (o Observed) ToWire() WireObserved {
	w := WireObserved{
		Claim:    WireClaim{Data: o.Claim.Data},
		OwnerRef: o.OwnerRef,
		ClaimID:  o.ClaimID,
	}
	if o.Claim.Previous != "" {
		prev := o.Claim.Previous
		w.Claim.Previous = &prev
	}
	return w
}

// FromWire converts a decoded stream record back to Observed.
func (w WireObserved) FromWire() Observed {
	o := Observed{
		Claim:    ClaimView{Data: w.Claim.Data},
		OwnerRef: w.OwnerRef,
		ClaimID:  w.ClaimID,
	}
	if w.Claim.Previous != nil {
		o.Claim.Previous = *w.Claim.Previous
	}
	return o
}
