package dispense

// =============================================================================
// TRANSACTION VALIDATOR - Pre-flight sufficiency check
// =============================================================================

// Validate computes the total requirement and the total eligible supply.
// It returns an *InsufficientVolumeError when supply falls short; in that
// case the caller must not touch any vial.
func Validate(eligible []Vial, req DispenseRequest) (required, available Volume, err error) {
	required = req.RequiredVolume()
	available = TotalRemaining(eligible)

	if available.LessThan(required) {
		return required, available, &InsufficientVolumeError{
			InventoryItemID: req.InventoryItemID,
			Required:        required,
			Buffer:          req.BufferVolume(),
			Available:       available,
		}
	}
	return required, available, nil
}
