package listing

// Tier buckets a preference ratio for display. The numeric ratio stays the
// source of truth; tiers are a presentation concern layered on top.
type Tier int

const (
	TierNone Tier = iota
	TierLittle
	TierSome
	TierHalf
	TierAll
)

// Bucket maps a preference ratio onto its display tier.
func Bucket(ratio float64) Tier {
	switch {
	case ratio > 0.9:
		return TierAll
	case ratio > 0.6:
		return TierHalf
	case ratio > 0.4:
		return TierSome
	case ratio > 0.2:
		return TierLittle
	default:
		return TierNone
	}
}

// Color returns the highlight color for a tier. TierNone is neutral and
// yields no highlight.
func (t Tier) Color() string {
	switch t {
	case TierAll:
		return "#e7bc4f"
	case TierHalf:
		return "#e2e74f"
	case TierSome:
		return "#9cc22e"
	case TierLittle:
		return "#6daf25"
	default:
		return ""
	}
}

func (t Tier) String() string {
	switch t {
	case TierAll:
		return "all"
	case TierHalf:
		return "half"
	case TierSome:
		return "some"
	case TierLittle:
		return "little"
	default:
		return "none"
	}
}
