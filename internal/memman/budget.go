package memman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"qservworker/internal/logging"
)

// Sizer estimates the resident footprint, in bytes, of one table. Tests
// and small deployments can use a constant sizer; production deployments
// inject one backed by real table statistics.
type Sizer func(t TableRef) int64

// BudgetConfig configures a BudgetMemMan.
type BudgetConfig struct {
	// BudgetBytes is the total memory budget this manager may lock.
	BudgetBytes int64
	// Sizer estimates each table's footprint. If nil, every table counts
	// as 1 byte (degrading the budget to a reservation-count cap).
	Sizer Sizer
	// FlexibleSlack allows flexible reservations to exceed BudgetBytes by
	// this many bytes before failing outright, modeling "lock what you
	// can and let the executor degrade its plan".
	FlexibleSlack int64
	Logger        *slog.Logger
}

// BudgetMemMan is an in-process MemMan that tracks a byte budget under a
// mutex, grounded on chunk/memory.Manager's Config-injected,
// mutex-guarded-state idiom.
type BudgetMemMan struct {
	mu       sync.Mutex
	cfg      BudgetConfig
	reserved int64
	byToken  map[string]int64
	logger   *slog.Logger
}

// NewBudgetMemMan constructs a BudgetMemMan from cfg.
func NewBudgetMemMan(cfg BudgetConfig) *BudgetMemMan {
	if cfg.Sizer == nil {
		cfg.Sizer = func(TableRef) int64 { return 1 }
	}
	logger := logging.Default(cfg.Logger).With("component", "memman", "type", "budget")
	return &BudgetMemMan{
		cfg:     cfg,
		byToken: make(map[string]int64),
		logger:  logger,
	}
}

// Reserve locks the requested tables against the budget. In non-flexible
// mode it fails outright if the full set does not fit. In flexible mode it
// drops tables from the end of the list (regardless of slowness) until the
// remainder fits within the unreserved budget plus FlexibleSlack,
// returning a partial Reservation whose Resident field names what was kept.
func (m *BudgetMemMan) Reserve(_ context.Context, tables []TableRef, flexible bool) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := int64(0)
	sizes := make([]int64, len(tables))
	for i, t := range tables {
		sizes[i] = m.cfg.Sizer(t)
		total += sizes[i]
	}

	limit := m.cfg.BudgetBytes
	if m.remainingLocked() >= total {
		return m.commitLocked(tables, total, flexible)
	}
	if !flexible {
		m.logger.Debug("reserve denied", "requested", total, "available", m.remainingLocked())
		return Reservation{}, fmt.Errorf("memman: budget exhausted: need %d, have %d", total, m.remainingLocked())
	}

	// Flexible: keep dropping the last table until the remainder fits,
	// honoring FlexibleSlack as extra headroom.
	resident := append([]TableRef(nil), tables...)
	residentSizes := append([]int64(nil), sizes...)
	residentTotal := total
	for len(resident) > 0 && residentTotal > m.remainingLocked()+m.cfg.FlexibleSlack {
		last := len(resident) - 1
		residentTotal -= residentSizes[last]
		resident = resident[:last]
		residentSizes = residentSizes[:last]
	}
	if len(resident) == 0 {
		return Reservation{}, fmt.Errorf("memman: no tables fit even flexibly (limit %d)", limit)
	}
	return m.commitLocked(resident, residentTotal, true)
}

func (m *BudgetMemMan) remainingLocked() int64 {
	return m.cfg.BudgetBytes - m.reserved
}

func (m *BudgetMemMan) commitLocked(resident []TableRef, size int64, flexible bool) (Reservation, error) {
	token := uuid.New().String()
	m.reserved += size
	m.byToken[token] = size
	return Reservation{Token: token, Resident: resident, Flexible: flexible}, nil
}

// Release returns the reservation's bytes to the budget.
func (m *BudgetMemMan) Release(r Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size, ok := m.byToken[r.Token]; ok {
		m.reserved -= size
		delete(m.byToken, r.Token)
	}
}
