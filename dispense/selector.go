package dispense

import (
	"sort"
	"time"
)

// =============================================================================
// VIAL SELECTOR - First-Expiry-First-Out ordering
// =============================================================================

// SelectionPolicy tunes eligibility beyond the base rule.
type SelectionPolicy struct {
	// ExcludePastExpiry skips ACTIVE vials whose expiry date is before asOf.
	// Off by default: EXPIRED status is owned by the expiry sweep.
	ExcludePastExpiry bool
}

// SelectVials returns copies of the vials that can be drawn from for itemID,
// ordered by ascending expiry date. Vials sharing an expiry date keep their
// input order. Returns an empty slice when nothing qualifies.
func SelectVials(vials []Vial, itemID string, asOf time.Time, policy SelectionPolicy) []Vial {
	eligible := make([]Vial, 0, len(vials))
	for _, v := range vials {
		if v.InventoryItemID != itemID || !v.IsEligible() {
			continue
		}
		if policy.ExcludePastExpiry && v.ExpiredAsOf(asOf) {
			continue
		}
		eligible = append(eligible, v)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].ExpiryDate.Before(eligible[j].ExpiryDate)
	})
	return eligible
}

// TotalRemaining sums RemainingVolume over vials.
func TotalRemaining(vials []Vial) Volume {
	total := ZeroVolume
	for _, v := range vials {
		total = total.Add(v.RemainingVolume)
	}
	return total
}
