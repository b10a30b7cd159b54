package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// ItemStore keeps inventory items in memory, keyed so re-runs update the
// same source item in place.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]ingest.Item
}

// NewItemStore constructs an ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items: make(map[string]ingest.Item),
	}
}

func itemKey(item ingest.Item) string {
	return item.CustomerID + "/" + item.SourceID + "/" + item.SourceItemID
}

// UpsertItems writes the batch, replacing existing rows for the same
// source item.
func (s *ItemStore) UpsertItems(_ context.Context, items []ingest.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.SourceItemID == "" {
			return fmt.Errorf("source item id is required")
		}
		s.items[itemKey(item)] = item
	}
	return nil
}

// ListItems returns the items written by one run, ordered by source item id.
func (s *ItemStore) ListItems(_ context.Context, customerID, runID string) ([]ingest.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ingest.Item
	for _, item := range s.items {
		if item.CustomerID == customerID && item.RunID == runID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SourceItemID < out[j].SourceItemID
	})
	return out, nil
}
