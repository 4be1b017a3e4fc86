package oversight

// Tier is the oversight level assigned to an agent action, ordered by
// severity: Tier1High > Tier2Medium > Tier3Low.
type Tier int

const (
	Tier1High Tier = iota + 1
	Tier2Medium
	Tier3Low
)

// String returns the wire/storage name of the tier.
func (t Tier) String() string {
	switch t {
	case Tier1High:
		return "tier_1_high"
	case Tier2Medium:
		return "tier_2_medium"
	case Tier3Low:
		return "tier_3_low"
	default:
		return "tier_unspecified"
	}
}

// ParseTier maps a tier name to its Tier value. Unknown names map to
// Tier3Low.
func ParseTier(s string) Tier {
	switch s {
	case "tier_1_high":
		return Tier1High
	case "tier_2_medium":
		return Tier2Medium
	default:
		return Tier3Low
	}
}
