/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the service needs in one database
  file, so a dispense, the item resync and the prescription status all land
  in the same place.

INTERFACES IMPLEMENTED:
  dispense.Store:   Vials and dispense logs
  dispense.TxStore: WithTx for the vial + log commit
  pharmacy.Store:   Inventory items and prescriptions

APPEND-ONLY ENFORCEMENT:
  dispense_logs is never updated or deleted outside Reset.
  idx_unique_log_rx_vial rejects a second log for the same prescription and
  vial, which surfaces as dispense.ErrDuplicateDispense.

KEY TABLES:
  vials:           One row per physical vial; volumes stored as decimal text
  dispense_logs:   Immutable audit of every deduction
  inventory_items: Stock-keeping units
  prescriptions:   Orders and their status

ORDERING:
  Vials, items and prescriptions are returned in insertion order (rowid).
  Expiry ordering is the engine's job, not the store's.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases behave like files. Inside WithTx every call goes through the
  sql.Tx and takes no further locks.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/dispensing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  dispenser := dispense.NewDispenser(store, nil, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - dispense/store.go: Vial and log interfaces
  - pharmacy/types.go: Item and prescription interface
  - dispense/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/dispensing-engine/dispense"
	"github.com/warp/dispensing-engine/pharmacy"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ dispense.TxStore = (*Store)(nil)
	_ pharmacy.Store   = (*Store)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Vials (one row per physical container)
	CREATE TABLE IF NOT EXISTS vials (
		id TEXT PRIMARY KEY,
		inventory_item_id TEXT NOT NULL,
		batch_number TEXT NOT NULL DEFAULT '',
		expiry_date TEXT NOT NULL,
		total_volume TEXT NOT NULL,
		remaining_volume TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vials_item
		ON vials(inventory_item_id);

	-- Dispense logs (append-only)
	CREATE TABLE IF NOT EXISTS dispense_logs (
		id TEXT PRIMARY KEY,
		prescription_id TEXT NOT NULL,
		vial_id TEXT NOT NULL,
		deducted TEXT NOT NULL,
		remaining_after TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	-- CRITICAL: one deduction per prescription per vial
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_log_rx_vial
		ON dispense_logs(prescription_id, vial_id);

	CREATE INDEX IF NOT EXISTS idx_logs_vial
		ON dispense_logs(vial_id);

	-- Inventory items
	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		batch_number TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL DEFAULT 0,
		min_level INTEGER NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT '',
		expiry_date TEXT,
		location TEXT NOT NULL DEFAULT '',
		supplier TEXT NOT NULL DEFAULT '',
		last_updated TEXT,
		is_liquid BOOLEAN NOT NULL DEFAULT FALSE,
		total_volume_ml REAL NOT NULL DEFAULT 0
	);

	-- Prescriptions
	CREATE TABLE IF NOT EXISTS prescriptions (
		id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL,
		patient_age INTEGER NOT NULL DEFAULT 0,
		medication_id TEXT NOT NULL,
		medication_name TEXT NOT NULL DEFAULT '',
		dosage TEXT NOT NULL DEFAULT '',
		dose_amount_ml REAL NOT NULL DEFAULT 0,
		total_shots INTEGER NOT NULL DEFAULT 0,
		buffer_ml REAL NOT NULL DEFAULT 0,
		dispense_qty INTEGER NOT NULL DEFAULT 0,
		frequency TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		target TEXT NOT NULL DEFAULT 'pharmacy',
		status TEXT NOT NULL DEFAULT 'pending',
		doctor_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_prescriptions_status
		ON prescriptions(status);
	CREATE INDEX IF NOT EXISTS idx_prescriptions_medication
		ON prescriptions(medication_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// VIAL STORE (dispense.VialStore interface)
// =============================================================================

// SaveVial inserts a new vial. Existing IDs fail with dispense.ErrDuplicateVial.
func (s *Store) SaveVial(ctx context.Context, v dispense.Vial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveVial(ctx, s.db, v)
}

func saveVial(ctx context.Context, q queryer, v dispense.Vial) error {
	query := `
		INSERT INTO vials (id, inventory_item_id, batch_number, expiry_date,
			total_volume, remaining_volume, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		v.ID, v.InventoryItemID, v.BatchNumber,
		v.ExpiryDate.Format(time.DateOnly),
		v.TotalVolume.String(), v.RemainingVolume.String(), string(v.Status),
		time.Now().UTC().Format(timestampLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return dispense.ErrDuplicateVial
		}
		return fmt.Errorf("failed to save vial: %w", err)
	}
	return nil
}

// GetVial returns nil, nil when the vial does not exist.
func (s *Store) GetVial(ctx context.Context, id string) (*dispense.Vial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getVial(ctx, s.db, id)
}

const vialColumns = `id, inventory_item_id, batch_number, expiry_date, total_volume, remaining_volume, status`

func getVial(ctx context.Context, q queryer, id string) (*dispense.Vial, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+vialColumns+" FROM vials WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query vial: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	v, err := scanVial(rows)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVials returns an item's vials in insertion order; "" lists all vials.
func (s *Store) ListVials(ctx context.Context, itemID string) ([]dispense.Vial, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVials(ctx, s.db, itemID)
}

func listVials(ctx context.Context, q queryer, itemID string) ([]dispense.Vial, error) {
	query := "SELECT " + vialColumns + " FROM vials"
	var args []any
	if itemID != "" {
		query += " WHERE inventory_item_id = ?"
		args = append(args, itemID)
	}
	query += " ORDER BY rowid"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vials: %w", err)
	}
	defer rows.Close()

	vials := []dispense.Vial{}
	for rows.Next() {
		v, err := scanVial(rows)
		if err != nil {
			return nil, err
		}
		vials = append(vials, v)
	}
	return vials, rows.Err()
}

func scanVial(rows *sql.Rows) (dispense.Vial, error) {
	var (
		v                dispense.Vial
		expiry           string
		total, remaining string
		status           string
	)
	if err := rows.Scan(&v.ID, &v.InventoryItemID, &v.BatchNumber, &expiry, &total, &remaining, &status); err != nil {
		return v, fmt.Errorf("failed to scan vial: %w", err)
	}

	var err error
	if v.ExpiryDate, err = time.Parse(time.DateOnly, expiry); err != nil {
		return v, fmt.Errorf("vial %s: bad expiry date %q: %w", v.ID, expiry, err)
	}
	if v.TotalVolume, err = dispense.ParseVolume(total); err != nil {
		return v, fmt.Errorf("vial %s: %w", v.ID, err)
	}
	if v.RemainingVolume, err = dispense.ParseVolume(remaining); err != nil {
		return v, fmt.Errorf("vial %s: %w", v.ID, err)
	}
	v.Status = dispense.VialStatus(status)
	return v, nil
}

// UpdateVials replaces vials by ID. Unknown IDs fail the whole batch.
func (s *Store) UpdateVials(ctx context.Context, vials []dispense.Vial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := updateVials(ctx, sqlTx, vials); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func updateVials(ctx context.Context, q queryer, vials []dispense.Vial) error {
	query := `
		UPDATE vials SET
			batch_number = ?,
			expiry_date = ?,
			total_volume = ?,
			remaining_volume = ?,
			status = ?
		WHERE id = ?
	`
	for _, v := range vials {
		res, err := q.ExecContext(ctx, query,
			v.BatchNumber, v.ExpiryDate.Format(time.DateOnly),
			v.TotalVolume.String(), v.RemainingVolume.String(), string(v.Status),
			v.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update vial %s: %w", v.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update vial %s: %w", v.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", dispense.ErrVialNotFound, v.ID)
		}
	}
	return nil
}

// =============================================================================
// LOG STORE (dispense.LogStore interface)
// =============================================================================

// AppendLogs inserts logs atomically.
func (s *Store) AppendLogs(ctx context.Context, logs []dispense.DispenseLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendLogs(ctx, sqlTx, logs); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendLogs(ctx context.Context, q queryer, logs []dispense.DispenseLog) error {
	query := `
		INSERT INTO dispense_logs (id, prescription_id, vial_id, deducted, remaining_after, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, l := range logs {
		_, err := q.ExecContext(ctx, query,
			l.ID, l.PrescriptionID, l.VialID,
			l.Deducted.String(), l.RemainingAfter.String(),
			l.Timestamp.UTC().Format(timestampLayout),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return dispense.ErrDuplicateDispense
			}
			return fmt.Errorf("failed to append dispense log: %w", err)
		}
	}
	return nil
}

func (s *Store) LogsByPrescription(ctx context.Context, prescriptionID string) ([]dispense.DispenseLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryLogs(ctx, s.db, "prescription_id", prescriptionID)
}

func (s *Store) LogsByVial(ctx context.Context, vialID string) ([]dispense.DispenseLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryLogs(ctx, s.db, "vial_id", vialID)
}

// queryLogs filters on column, which is always one of the two constants above.
func queryLogs(ctx context.Context, q queryer, column, value string) ([]dispense.DispenseLog, error) {
	query := `
		SELECT id, prescription_id, vial_id, deducted, remaining_after, timestamp
		FROM dispense_logs
		WHERE ` + column + ` = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := q.QueryContext(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispense logs: %w", err)
	}
	defer rows.Close()

	var logs []dispense.DispenseLog
	for rows.Next() {
		var (
			l                   dispense.DispenseLog
			deducted, remaining string
			ts                  string
		)
		if err := rows.Scan(&l.ID, &l.PrescriptionID, &l.VialID, &deducted, &remaining, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan dispense log: %w", err)
		}
		if l.Deducted, err = dispense.ParseVolume(deducted); err != nil {
			return nil, fmt.Errorf("log %s: %w", l.ID, err)
		}
		if l.RemainingAfter, err = dispense.ParseVolume(remaining); err != nil {
			return nil, fmt.Errorf("log %s: %w", l.ID, err)
		}
		if l.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("log %s: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (dispense.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store dispense.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveVial(ctx context.Context, v dispense.Vial) error {
	return saveVial(ctx, ts.tx, v)
}

func (ts *txStore) GetVial(ctx context.Context, id string) (*dispense.Vial, error) {
	return getVial(ctx, ts.tx, id)
}

func (ts *txStore) ListVials(ctx context.Context, itemID string) ([]dispense.Vial, error) {
	return listVials(ctx, ts.tx, itemID)
}

func (ts *txStore) UpdateVials(ctx context.Context, vials []dispense.Vial) error {
	return updateVials(ctx, ts.tx, vials)
}

func (ts *txStore) AppendLogs(ctx context.Context, logs []dispense.DispenseLog) error {
	return appendLogs(ctx, ts.tx, logs)
}

func (ts *txStore) LogsByPrescription(ctx context.Context, prescriptionID string) ([]dispense.DispenseLog, error) {
	return queryLogs(ctx, ts.tx, "prescription_id", prescriptionID)
}

func (ts *txStore) LogsByVial(ctx context.Context, vialID string) ([]dispense.DispenseLog, error) {
	return queryLogs(ctx, ts.tx, "vial_id", vialID)
}

// =============================================================================
// INVENTORY ITEMS (pharmacy.Store interface)
// =============================================================================

// SaveItem inserts or replaces an item.
func (s *Store) SaveItem(ctx context.Context, item pharmacy.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO inventory_items (id, name, category, batch_number, quantity, min_level,
			unit, expiry_date, location, supplier, last_updated, is_liquid, total_volume_ml)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			batch_number = excluded.batch_number,
			quantity = excluded.quantity,
			min_level = excluded.min_level,
			unit = excluded.unit,
			expiry_date = excluded.expiry_date,
			location = excluded.location,
			supplier = excluded.supplier,
			last_updated = excluded.last_updated,
			is_liquid = excluded.is_liquid,
			total_volume_ml = excluded.total_volume_ml
	`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Name, string(item.Category), item.BatchNumber,
		item.Quantity, item.MinLevel, item.Unit,
		nullDate(item.ExpiryDate), item.Location, item.Supplier,
		nullDate(item.LastUpdated), item.IsLiquid, item.TotalVolumeMl,
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

const itemColumns = `id, name, category, batch_number, quantity, min_level, unit,
	expiry_date, location, supplier, last_updated, is_liquid, total_volume_ml`

// GetItem returns nil, nil when the item does not exist.
func (s *Store) GetItem(ctx context.Context, id string) (*pharmacy.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM inventory_items WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	item, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]pharmacy.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM inventory_items ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []pharmacy.InventoryItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (pharmacy.InventoryItem, error) {
	var (
		item                pharmacy.InventoryItem
		category            string
		expiry, lastUpdated sql.NullString
	)
	err := rows.Scan(
		&item.ID, &item.Name, &category, &item.BatchNumber, &item.Quantity, &item.MinLevel,
		&item.Unit, &expiry, &item.Location, &item.Supplier, &lastUpdated,
		&item.IsLiquid, &item.TotalVolumeMl,
	)
	if err != nil {
		return item, fmt.Errorf("failed to scan item: %w", err)
	}
	item.Category = pharmacy.Category(category)
	if item.ExpiryDate, err = parseNullDate(expiry); err != nil {
		return pharmacy.InventoryItem{}, fmt.Errorf("item %s expiry_date: %w", item.ID, err)
	}
	if item.LastUpdated, err = parseNullDate(lastUpdated); err != nil {
		return pharmacy.InventoryItem{}, fmt.Errorf("item %s last_updated: %w", item.ID, err)
	}
	return item, nil
}

// =============================================================================
// PRESCRIPTIONS (pharmacy.Store interface)
// =============================================================================

// SavePrescription inserts or replaces a prescription.
func (s *Store) SavePrescription(ctx context.Context, p pharmacy.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO prescriptions (id, patient_name, patient_age, medication_id, medication_name,
			dosage, dose_amount_ml, total_shots, buffer_ml, dispense_qty, frequency, notes,
			target, status, doctor_name, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_name = excluded.patient_name,
			patient_age = excluded.patient_age,
			medication_name = excluded.medication_name,
			dosage = excluded.dosage,
			dose_amount_ml = excluded.dose_amount_ml,
			total_shots = excluded.total_shots,
			buffer_ml = excluded.buffer_ml,
			dispense_qty = excluded.dispense_qty,
			frequency = excluded.frequency,
			notes = excluded.notes,
			target = excluded.target,
			status = excluded.status,
			doctor_name = excluded.doctor_name,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if p.CompletedAt != nil {
		c := p.CompletedAt.UTC().Format(timestampLayout)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.PatientName, p.PatientAge, p.MedicationID, p.MedicationName,
		p.Dosage, p.DoseAmountMl, p.TotalShots, p.BufferMl, p.DispenseQty,
		p.Frequency, p.Notes, string(p.Target), string(p.Status), p.DoctorName,
		p.CreatedAt.UTC().Format(timestampLayout), completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save prescription: %w", err)
	}
	return nil
}

const prescriptionColumns = `id, patient_name, patient_age, medication_id, medication_name,
	dosage, dose_amount_ml, total_shots, buffer_ml, dispense_qty, frequency, notes,
	target, status, doctor_name, created_at, completed_at`

// GetPrescription returns nil, nil when the prescription does not exist.
func (s *Store) GetPrescription(ctx context.Context, id string) (*pharmacy.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rxs, err := s.queryPrescriptions(ctx, "SELECT "+prescriptionColumns+" FROM prescriptions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rxs) == 0 {
		return nil, nil
	}
	return &rxs[0], nil
}

// ListPrescriptions filters by status; "" returns all.
func (s *Store) ListPrescriptions(ctx context.Context, status pharmacy.PrescriptionStatus) ([]pharmacy.Prescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status == "" {
		return s.queryPrescriptions(ctx, "SELECT "+prescriptionColumns+" FROM prescriptions ORDER BY rowid")
	}
	return s.queryPrescriptions(ctx,
		"SELECT "+prescriptionColumns+" FROM prescriptions WHERE status = ? ORDER BY rowid", string(status))
}

func (s *Store) queryPrescriptions(ctx context.Context, query string, args ...any) ([]pharmacy.Prescription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prescriptions: %w", err)
	}
	defer rows.Close()

	rxs := []pharmacy.Prescription{}
	for rows.Next() {
		var (
			p              pharmacy.Prescription
			target, status string
			createdAt      string
			completedAt    sql.NullString
		)
		err := rows.Scan(
			&p.ID, &p.PatientName, &p.PatientAge, &p.MedicationID, &p.MedicationName,
			&p.Dosage, &p.DoseAmountMl, &p.TotalShots, &p.BufferMl, &p.DispenseQty,
			&p.Frequency, &p.Notes, &target, &status, &p.DoctorName, &createdAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		p.Target = pharmacy.Target(target)
		p.Status = pharmacy.PrescriptionStatus(status)
		if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("prescription %s created_at: %w", p.ID, err)
		}
		if completedAt.Valid {
			t, err := parseTimestamp(completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("prescription %s completed_at: %w", p.ID, err)
			}
			p.CompletedAt = &t
		}
		rxs = append(rxs, p)
	}
	return rxs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"dispense_logs", "vials", "prescriptions", "inventory_items"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

// timestampLayout always writes nine fractional digits so that text order in
// SQLite matches chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// parseTimestamp also accepts rows written with a variable-width fraction.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.DateOnly), Valid: true}
}

func parseNullDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s.String, err)
	}
	return t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
