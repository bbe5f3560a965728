package dispense

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AUDIT LOG EMITTER - One record per vial touched
// =============================================================================

// IDGenerator produces unique log identifiers.
type IDGenerator func() string

// NewLogID is the default generator: "log-" + random UUID.
func NewLogID() string {
	return "log-" + uuid.NewString()
}

// LogEmitter builds DispenseLogs for a single allocation call. It never writes
// anywhere; the logs travel back in the Result.
type LogEmitter struct {
	prescriptionID string
	at             time.Time
	newID          IDGenerator
	logs           []DispenseLog
}

func newLogEmitter(prescriptionID string, at time.Time, newID IDGenerator) *LogEmitter {
	if newID == nil {
		newID = NewLogID
	}
	return &LogEmitter{prescriptionID: prescriptionID, at: at, newID: newID}
}

// Emit records that deducted was taken from v, where v already reflects the
// deduction.
func (e *LogEmitter) Emit(v Vial, deducted Volume) DispenseLog {
	entry := DispenseLog{
		ID:             e.newID(),
		PrescriptionID: e.prescriptionID,
		VialID:         v.ID,
		Deducted:       deducted,
		RemainingAfter: v.RemainingVolume,
		Timestamp:      e.at,
	}
	e.logs = append(e.logs, entry)
	return entry
}

// Logs returns the emitted records in emission order.
func (e *LogEmitter) Logs() []DispenseLog {
	out := make([]DispenseLog, len(e.logs))
	copy(out, e.logs)
	return out
}
