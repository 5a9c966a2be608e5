package enums

// ItemTrackingMethod describes how a seeding unit's items are tagged.
type ItemTrackingMethod string

const (
	ItemTrackingUnset      ItemTrackingMethod = ""
	ItemTrackingNone       ItemTrackingMethod = "none"
	ItemTrackingPreprinted ItemTrackingMethod = "preprinted"
)

// SupportsCompliance reports whether batches using this method can be synced.
func (m ItemTrackingMethod) SupportsCompliance() bool {
	switch m {
	case ItemTrackingUnset, ItemTrackingNone, ItemTrackingPreprinted:
		return true
	default:
		return false
	}
}
