// Package store provides dispense.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/dispensing-engine/dispense"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	vials map[string]dispense.Vial
	order []string // vial IDs in insertion order
	logs  []dispense.DispenseLog
	seen  map[logKey]bool
}

type logKey struct {
	PrescriptionID string
	VialID         string
}

func NewMemory() *Memory {
	return &Memory{
		vials: make(map[string]dispense.Vial),
		seen:  make(map[logKey]bool),
	}
}

func (m *Memory) SaveVial(_ context.Context, v dispense.Vial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vials[v.ID]; ok {
		return dispense.ErrDuplicateVial
	}
	m.vials[v.ID] = v
	m.order = append(m.order, v.ID)
	return nil
}

func (m *Memory) GetVial(_ context.Context, id string) (*dispense.Vial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vials[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) ListVials(_ context.Context, itemID string) ([]dispense.Vial, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(itemID), nil
}

func (m *Memory) listLocked(itemID string) []dispense.Vial {
	result := make([]dispense.Vial, 0, len(m.order))
	for _, id := range m.order {
		v := m.vials[id]
		if itemID == "" || v.InventoryItemID == itemID {
			result = append(result, v)
		}
	}
	return result
}

// UpdateVials merges by ID. All IDs are checked before anything is written.
func (m *Memory) UpdateVials(_ context.Context, vials []dispense.Vial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(vials)
}

func (m *Memory) updateLocked(vials []dispense.Vial) error {
	for _, v := range vials {
		if _, ok := m.vials[v.ID]; !ok {
			return dispense.ErrVialNotFound
		}
	}
	for _, v := range vials {
		m.vials[v.ID] = v
	}
	return nil
}

// AppendLogs adds logs atomically. Append-only.
func (m *Memory) AppendLogs(_ context.Context, logs []dispense.DispenseLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(logs)
}

func (m *Memory) appendLocked(logs []dispense.DispenseLog) error {
	// Check all keys first (atomic check)
	batch := make(map[logKey]bool, len(logs))
	for _, l := range logs {
		k := logKey{PrescriptionID: l.PrescriptionID, VialID: l.VialID}
		if m.seen[k] || batch[k] {
			return dispense.ErrDuplicateDispense
		}
		batch[k] = true
	}

	for _, l := range logs {
		m.seen[logKey{PrescriptionID: l.PrescriptionID, VialID: l.VialID}] = true
		m.logs = append(m.logs, l)
	}
	return nil
}

func (m *Memory) LogsByPrescription(_ context.Context, prescriptionID string) ([]dispense.DispenseLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLogs(func(l dispense.DispenseLog) bool { return l.PrescriptionID == prescriptionID }), nil
}

func (m *Memory) LogsByVial(_ context.Context, vialID string) ([]dispense.DispenseLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterLogs(func(l dispense.DispenseLog) bool { return l.VialID == vialID }), nil
}

func (m *Memory) filterLogs(keep func(dispense.DispenseLog) bool) []dispense.DispenseLog {
	var result []dispense.DispenseLog
	for _, l := range m.logs {
		if keep(l) {
			result = append(result, l)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(dispense.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	vials map[string]dispense.Vial
	order []string
	logs  []dispense.DispenseLog
	seen  map[logKey]bool
}

func (tm *TxMemory) snapshot() memorySnapshot {
	vials := make(map[string]dispense.Vial, len(tm.vials))
	for k, v := range tm.vials {
		vials[k] = v
	}
	seen := make(map[logKey]bool, len(tm.seen))
	for k, v := range tm.seen {
		seen[k] = v
	}
	return memorySnapshot{
		vials: vials,
		order: append([]string{}, tm.order...),
		logs:  append([]dispense.DispenseLog{}, tm.logs...),
		seen:  seen,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.vials = s.vials
	tm.order = s.order
	tm.logs = s.logs
	tm.seen = s.seen
}

// txMemoryView runs against the parent's maps while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) SaveVial(_ context.Context, v dispense.Vial) error {
	if _, ok := tv.parent.vials[v.ID]; ok {
		return dispense.ErrDuplicateVial
	}
	tv.parent.vials[v.ID] = v
	tv.parent.order = append(tv.parent.order, v.ID)
	return nil
}

func (tv *txMemoryView) GetVial(_ context.Context, id string) (*dispense.Vial, error) {
	v, ok := tv.parent.vials[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (tv *txMemoryView) ListVials(_ context.Context, itemID string) ([]dispense.Vial, error) {
	return tv.parent.listLocked(itemID), nil
}

func (tv *txMemoryView) UpdateVials(_ context.Context, vials []dispense.Vial) error {
	return tv.parent.updateLocked(vials)
}

func (tv *txMemoryView) AppendLogs(_ context.Context, logs []dispense.DispenseLog) error {
	return tv.parent.appendLocked(logs)
}

func (tv *txMemoryView) LogsByPrescription(_ context.Context, prescriptionID string) ([]dispense.DispenseLog, error) {
	return tv.parent.filterLogs(func(l dispense.DispenseLog) bool { return l.PrescriptionID == prescriptionID }), nil
}

func (tv *txMemoryView) LogsByVial(_ context.Context, vialID string) ([]dispense.DispenseLog, error) {
	return tv.parent.filterLogs(func(l dispense.DispenseLog) bool { return l.VialID == vialID }), nil
}
