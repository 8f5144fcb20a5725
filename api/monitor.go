/*
monitor.go - Background budget overrun monitor

PURPOSE:
  Periodically recomputes the current month's overrun ranking for every
  tenant and logs projects over budget, so operators notice runaway costs
  without polling the dashboard.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Walks all monitored tenants and logs each over-budget project
  - Never mutates any entity; it is a pure reader over the store

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the monitor is active (default: true)

USAGE:
  monitor := NewOverrunMonitor(calc, tenantIDs)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: GetOverruns endpoint (on-demand ranking)
  - costs/overruns.go: The ranking itself
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/costs"
	"github.com/warp/billing-engine/money"
)

// OverrunMonitor logs over-budget projects at a fixed interval.
type OverrunMonitor struct {
	Calculator    *costs.Calculator
	Tenants       []billing.TenantID
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverrunMonitor creates a new monitor over the given tenants.
func NewOverrunMonitor(calc *costs.Calculator, tenants []billing.TenantID) *OverrunMonitor {
	return &OverrunMonitor{
		Calculator:    calc,
		Tenants:       tenants,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the monitor.
func (m *OverrunMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		log.Println("[Monitor] Disabled, not starting")
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.wg.Add(1)

	go m.run()

	log.Printf("[Monitor] Started with check interval: %v", m.CheckInterval)
}

// Stop stops the monitor.
func (m *OverrunMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.wg.Wait()
		log.Println("[Monitor] Stopped")
	}
}

func (m *OverrunMonitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.check()

	for {
		select {
		case <-m.ticker.C:
			m.check()
		case <-m.stop:
			return
		}
	}
}

func (m *OverrunMonitor) check() {
	ctx := context.Background()
	month := money.CurrentMonth()

	for _, tenantID := range m.Tenants {
		entries, err := m.Calculator.Overruns(ctx, tenantID, month)
		if err != nil {
			log.Printf("[Monitor] Error computing overruns for tenant %s: %v", tenantID, err)
			continue
		}
		for _, e := range entries {
			log.Printf("[Monitor] Tenant %s project %s (%s) over budget for %s: real=%s planned=%s diff=%s",
				tenantID, e.Project.Code, e.Project.Name, month, e.Real, e.Planned, e.Diff)
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (m *OverrunMonitor) RunNow() {
	m.check()
}
