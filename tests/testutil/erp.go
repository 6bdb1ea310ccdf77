package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// ErpItem is one product as the fake ERP reports it.
type ErpItem struct {
	ExternalID  string          `json:"external_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FakeERP serves the ERP price query endpoint from an in-memory catalog.
type FakeERP struct {
	*httptest.Server

	mu       sync.Mutex
	items    map[string]ErpItem
	status   int
	requests atomic.Int64
}

// NewFakeERP starts a fake ERP closed on test cleanup.
func NewFakeERP(t *testing.T) *FakeERP {
	t.Helper()
	f := &FakeERP{items: map[string]ErpItem{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

// Set stores or replaces an item. A zero UpdatedAt becomes now.
func (f *FakeERP) Set(item ErpItem) {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ExternalID] = item
}

// FailWith makes every request return status; 0 restores normal answers.
func (f *FakeERP) FailWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// Requests returns how many queries were served.
func (f *FakeERP) Requests() int64 { return f.requests.Load() }

func (f *FakeERP) serve(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if r.Method != http.MethodPost || r.URL.Path != "/api/v1/prices/query" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ExternalIDs []string `json:"external_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	status := f.status
	items := make([]ErpItem, 0, len(req.ExternalIDs))
	for _, id := range req.ExternalIDs {
		if it, ok := f.items[id]; ok {
			items = append(items, it)
		}
	}
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}
