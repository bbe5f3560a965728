/*
store.go - Persistence interface for vials and dispense logs

PURPOSE:
  Defines the boundary between the dispensing engine and whatever holds the
  authoritative vial inventory and audit trail. The engine itself never
  touches a Store; the Dispenser (service.go) reads a snapshot, allocates,
  and commits the Result through one.

KEY INTERFACES:
  VialStore: Receive vials, list snapshots, merge updated vials by ID
  LogStore:  Append-only dispense audit trail
  TxStore:   Both of the above inside one atomic transaction

APPEND-ONLY CONTRACT:
  LogStore has no Update or Delete. A (prescription, vial) pair can be
  logged only once; a second append fails with ErrDuplicateDispense.

MERGE BY ID:
  UpdateVials replaces only the vials it is given. Every ID must already
  exist, otherwise nothing is written and ErrVialNotFound is returned.

IMPLEMENTATIONS:
  - dispense/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - service.go: Uses TxStore for allocate + commit
*/
package dispense

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

type VialStore interface {
	// SaveVial inserts a new vial. Fails with ErrDuplicateVial if the ID exists.
	SaveVial(ctx context.Context, v Vial) error

	// GetVial returns nil, nil when the vial does not exist.
	GetVial(ctx context.Context, id string) (*Vial, error)

	// ListVials returns vials for an item in insertion order.
	// An empty itemID lists every vial.
	ListVials(ctx context.Context, itemID string) ([]Vial, error)

	// UpdateVials merges vials by ID, atomically.
	UpdateVials(ctx context.Context, vials []Vial) error
}

type LogStore interface {
	// AppendLogs persists logs atomically. This is the ONLY write operation.
	AppendLogs(ctx context.Context, logs []DispenseLog) error

	// LogsByPrescription returns logs for a prescription in timestamp order.
	LogsByPrescription(ctx context.Context, prescriptionID string) ([]DispenseLog, error)

	// LogsByVial returns every deduction ever taken from a vial.
	LogsByVial(ctx context.Context, vialID string) ([]DispenseLog, error)
}

type Store interface {
	VialStore
	LogStore
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the Store it was given
// is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
