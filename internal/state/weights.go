package state

import (
	"sort"
	"sync"
	"time"

	"github.com/wonny/autocast/internal/contracts"
)

// WeightEntry (instrument, horizon) 가중치 벡터와 상태
type WeightEntry struct {
	State     contracts.WeightState `json:"state"`
	Weights   map[string]float64    `json:"weights"` // order_id → weight
	UpdatedAt time.Time             `json:"updated_at"`
}

// Clone returns a deep copy
func (e WeightEntry) Clone() WeightEntry {
	out := e
	if e.Weights != nil {
		out.Weights = make(map[string]float64, len(e.Weights))
		for k, v := range e.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

type weightSlot struct {
	mu    sync.Mutex
	entry WeightEntry
}

// WeightTable 가중치 테이블
// ⭐ SSOT: 키별 단일 writer (키마다 mutex), 읽기는 항상 복사본
type WeightTable struct {
	mu      sync.RWMutex
	entries map[contracts.SeriesKey]*weightSlot
}

// NewWeightTable creates an empty table
func NewWeightTable() *WeightTable {
	return &WeightTable{entries: make(map[contracts.SeriesKey]*weightSlot)}
}

// Get returns a copy of the entry for key
func (t *WeightTable) Get(key contracts.SeriesKey) (WeightEntry, bool) {
	t.mu.RLock()
	slot, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		return WeightEntry{State: contracts.StateUninitialized}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.entry.Clone(), true
}

// Update applies fn atomically to the entry for key and returns the stored copy.
// fn receives a copy; readers never observe a partially-updated vector.
func (t *WeightTable) Update(key contracts.SeriesKey, fn func(current WeightEntry, exists bool) WeightEntry) WeightEntry {
	t.mu.Lock()
	slot, exists := t.entries[key]
	if !exists {
		slot = &weightSlot{entry: WeightEntry{State: contracts.StateUninitialized}}
		t.entries[key] = slot
	}
	// 테이블 락을 쥔 채 슬롯 락 획득: 다른 키 갱신은 슬롯 락만 경쟁
	slot.mu.Lock()
	t.mu.Unlock()
	defer slot.mu.Unlock()

	next := fn(slot.entry.Clone(), exists).Clone()
	slot.entry = next
	return next.Clone()
}

// Keys returns all keys sorted by instrument then horizon
func (t *WeightTable) Keys() []contracts.SeriesKey {
	t.mu.RLock()
	keys := make([]contracts.SeriesKey, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Instrument != keys[j].Instrument {
			return keys[i].Instrument < keys[j].Instrument
		}
		return keys[i].HorizonDays < keys[j].HorizonDays
	})
	return keys
}

// Snapshot flattens the table into ModelWeight rows (sorted)
func (t *WeightTable) Snapshot() []contracts.ModelWeight {
	var out []contracts.ModelWeight
	for _, key := range t.Keys() {
		entry, ok := t.Get(key)
		if !ok {
			continue
		}
		orders := make([]string, 0, len(entry.Weights))
		for id := range entry.Weights {
			orders = append(orders, id)
		}
		sort.Strings(orders)
		for _, id := range orders {
			out = append(out, contracts.ModelWeight{
				Instrument:  key.Instrument,
				HorizonDays: key.HorizonDays,
				OrderID:     id,
				Weight:      entry.Weights[id],
			})
		}
	}
	return out
}

// States lists the state of every key (sorted), including keys without weights
func (t *WeightTable) States() []contracts.SeriesState {
	var out []contracts.SeriesState
	for _, key := range t.Keys() {
		entry, ok := t.Get(key)
		if !ok {
			continue
		}
		out = append(out, contracts.SeriesState{
			Instrument:  key.Instrument,
			HorizonDays: key.HorizonDays,
			State:       entry.State,
		})
	}
	return out
}

// Restore replaces the table with persisted rows and states.
// A key with weights but no recorded state (older documents) comes back Weighted.
func (t *WeightTable) Restore(rows []contracts.ModelWeight, states []contracts.SeriesState, at time.Time) {
	entries := make(map[contracts.SeriesKey]*weightSlot)
	slot := func(key contracts.SeriesKey) *weightSlot {
		s, ok := entries[key]
		if !ok {
			s = &weightSlot{entry: WeightEntry{State: contracts.StateUninitialized, UpdatedAt: at}}
			entries[key] = s
		}
		return s
	}

	for _, r := range rows {
		s := slot(contracts.SeriesKey{Instrument: r.Instrument, HorizonDays: r.HorizonDays})
		if s.entry.Weights == nil {
			s.entry.Weights = make(map[string]float64)
			s.entry.State = contracts.StateWeighted
		}
		s.entry.Weights[r.OrderID] = r.Weight
	}
	for _, st := range states {
		slot(contracts.SeriesKey{Instrument: st.Instrument, HorizonDays: st.HorizonDays}).entry.State = st.State
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}
