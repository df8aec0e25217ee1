// Package significance scores emergent events for Canon promotion.
package significance

const (
	MinMagnitude = 1.0
	MaxMagnitude = 10.0

	NovelBonus    = 1.5
	FamiliarBonus = 1.0
)

// SocialContext is what the scorer knows beyond the event itself.
type SocialContext struct {
	FriendReferenceCount int
	// EquivalentInCanon is true when a semantically equivalent event already
	// exists in Canon history.
	EquivalentInCanon bool
}

// Score computes base × (1 + 0.1 × friendRefs) × novelty. It is pure: equal
// inputs give bit-identical results. The friend factor is evaluated as
// (10 + refs) / 10 so that integer reference counts do not accumulate 0.1
// representation error.
func Score(baseMagnitude float64, social SocialContext) float64 {
	base := clamp(baseMagnitude)
	refs := social.FriendReferenceCount
	if refs < 0 {
		refs = 0
	}
	novelty := NovelBonus
	if social.EquivalentInCanon {
		novelty = FamiliarBonus
	}
	return base * float64(10+refs) * novelty / 10
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return MinMagnitude
	case v < MinMagnitude:
		return MinMagnitude
	case v > MaxMagnitude:
		return MaxMagnitude
	default:
		return v
	}
}
