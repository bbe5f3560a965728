package pharmacy

import (
	"context"
	"sync"
)

// =============================================================================
// MEMORY STORE - In-memory Store (for testing/dev)
// =============================================================================

type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]InventoryItem
	itemOrder []string
	rxs       map[string]Prescription
	rxOrder   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]InventoryItem),
		rxs:   make(map[string]Prescription),
	}
}

// SaveItem inserts or replaces an item.
func (m *MemoryStore) SaveItem(_ context.Context, item InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; !ok {
		m.itemOrder = append(m.itemOrder, item.ID)
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (*InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryStore) ListItems(_ context.Context) ([]InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]InventoryItem, 0, len(m.itemOrder))
	for _, id := range m.itemOrder {
		result = append(result, m.items[id])
	}
	return result, nil
}

// SavePrescription inserts or replaces a prescription.
func (m *MemoryStore) SavePrescription(_ context.Context, p Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rxs[p.ID]; !ok {
		m.rxOrder = append(m.rxOrder, p.ID)
	}
	m.rxs[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPrescription(_ context.Context, id string) (*Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.rxs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) ListPrescriptions(_ context.Context, status PrescriptionStatus) ([]Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Prescription, 0, len(m.rxOrder))
	for _, id := range m.rxOrder {
		p := m.rxs[id]
		if status == "" || p.Status == status {
			result = append(result, p)
		}
	}
	return result, nil
}
