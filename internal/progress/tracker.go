// Package progress tracks live state of a collection run and enforces the
// one-active-run invariant through a registry.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status is the coarse state of a collection run as seen by pollers.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// MarketReport is one per-market entry of the final report.
type MarketReport struct {
	MarketName string  `json:"marketName"`
	ItemsFound int     `json:"itemsFound"`
	Duration   float64 `json:"duration"`
}

// Report accumulates per-market outcomes over a run.
type Report struct {
	MarketBreakdown      []MarketReport `json:"marketBreakdown"`
	TotalDurationSeconds int            `json:"totalDurationSeconds,omitempty"`
	TotalItemsSaved      int            `json:"totalItemsSaved,omitempty"`
	EndTime              string         `json:"endTime,omitempty"`
}

// Snapshot is the point-in-time view returned by the status endpoint. Field
// names match what the frontend polls.
type Snapshot struct {
	Status                    Status  `json:"status"`
	StartTime                 int64   `json:"startTime,omitempty"`
	ProgressPercent           float64 `json:"progressPercent"`
	ETASeconds                int     `json:"etaSeconds"`
	CurrentMarket             string  `json:"currentMarket"`
	TotalMarkets              int     `json:"totalMarkets"`
	MarketsProcessed          int     `json:"marketsProcessed"`
	CurrentProduct            string  `json:"currentProduct"`
	TotalProducts             int     `json:"totalProducts"`
	ProductsProcessedInMarket int     `json:"productsProcessedInMarket"`
	TotalItemsFound           int     `json:"totalItemsFound"`
	Message                   string  `json:"progresso"`
	Report                    *Report `json:"report,omitempty"`
}

// Tracker holds the mutable progress of a single collection run. It is
// scoped to that run and shared by reference across its concurrent product
// tasks. All mutations take the mutex; per-product counter updates are
// frequent but cheap, and exact interleaving is deliberately best-effort.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func newTracker() *Tracker {
	return &Tracker{snap: Snapshot{Status: StatusIdle, ETASeconds: -1, Message: "Aguardando início"}}
}

// reserve claims the tracker for a run that has been accepted but has not
// reached Start yet, so the registry rejects concurrent triggers from the
// moment of acceptance.
func (t *Tracker) reserve() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = StatusRunning
	t.snap.Message = "Iniciando..."
}

// Start transitions the tracker to RUNNING with a fresh worklist-sized state.
func (t *Tracker) Start(totalMarkets, totalProducts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap = Snapshot{
		Status:        StatusRunning,
		StartTime:     time.Now().Unix(),
		ETASeconds:    -1,
		TotalMarkets:  totalMarkets,
		TotalProducts: totalProducts,
		Message:       "Iniciando...",
		Report:        &Report{MarketBreakdown: []MarketReport{}},
	}
}

// BeginMarket records the market now being collected and resets its counter.
func (t *Tracker) BeginMarket(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentMarket = name
	t.snap.ProductsProcessedInMarket = 0
}

// ProductProcessed records one product task finishing within the current
// market, along with how many items it found.
func (t *Tracker) ProductProcessed(name string, itemsFound int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.CurrentProduct = name
	t.snap.ProductsProcessedInMarket++
	t.snap.TotalItemsFound += itemsFound
}

// FinishMarket appends the market's report entry, advances the processed
// counter, and recomputes percent complete and the linear ETA projection.
func (t *Tracker) FinishMarket(name string, itemsSaved int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Report.MarketBreakdown = append(t.snap.Report.MarketBreakdown, MarketReport{
		MarketName: name,
		ItemsFound: itemsSaved,
		Duration:   float64(int(duration.Seconds()*100)) / 100,
	})
	t.snap.MarketsProcessed++

	elapsed := time.Since(time.Unix(t.snap.StartTime, 0)).Seconds()
	processed := t.snap.MarketsProcessed
	if processed > 0 && t.snap.TotalMarkets > 0 {
		perMarket := elapsed / float64(processed)
		remaining := t.snap.TotalMarkets - processed
		t.snap.ETASeconds = int(perMarket*float64(remaining) + 0.5)
		t.snap.ProgressPercent = float64(processed) / float64(t.snap.TotalMarkets) * 100
	}
	t.snap.Message = formatMarketDone(name, processed, t.snap.TotalMarkets)
}

// Complete finalizes the report and transitions to COMPLETED.
func (t *Tracker) Complete(runID string, totalSaved int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Report != nil {
		t.snap.Report.TotalDurationSeconds = int(time.Since(time.Unix(t.snap.StartTime, 0)).Seconds() + 0.5)
		t.snap.Report.TotalItemsSaved = totalSaved
		t.snap.Report.EndTime = time.Now().Format(time.RFC3339)
	}
	t.snap.Status = StatusCompleted
	t.snap.ProgressPercent = 100
	t.snap.ETASeconds = 0
	t.snap.Message = "Coleta " + runID + " finalizada"
}

// Fail transitions to FAILED surfacing the error message to pollers.
func (t *Tracker) Fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = StatusFailed
	t.snap.Message = "Coleta falhou: " + msg
}

// Snapshot returns a copy of the current progress state. The embedded report
// is copied so callers can serialize it without racing the run.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap
	if t.snap.Report != nil {
		r := *t.snap.Report
		r.MarketBreakdown = append([]MarketReport(nil), t.snap.Report.MarketBreakdown...)
		snap.Report = &r
	}
	return snap
}

func (t *Tracker) status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Status
}

func formatMarketDone(name string, processed, total int) string {
	return fmt.Sprintf("Processado %s (%d/%d)", name, processed, total)
}
