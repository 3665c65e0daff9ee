// Package status derives presentation flags for inventory items. Everything here is a pure function
// of its inputs so an optimistic row and its reconciled counterpart render identically.
package status

import (
	"math"
	"time"

	"inventory-sync/internal/models"
)

// ExpiringSoonDays is the inclusive window for the expiring-soon flag
const ExpiringSoonDays = 30

// Tags
const (
	TagOutOfStock   = "out-of-stock"
	TagLowStock     = "low-stock"
	TagExpired      = "expired"
	TagExpiringSoon = "expiring-soon"
	TagPendingSync  = "pending-sync"
)

// Fields are the raw inputs of the derivation
type Fields struct {
	Quantity     int
	ReorderLevel int
	ExpiryDate   *time.Time
	PendingSync  bool
}

// Derive computes the status for the given fields at instant now
func Derive(f Fields, now time.Time) models.InventoryStatus {
	st := models.InventoryStatus{
		IsOutOfStock: f.Quantity == 0,
		PendingSync:  f.PendingSync,
		Tags:         []string{},
	}
	st.IsLowStock = f.Quantity <= f.ReorderLevel

	if f.ExpiryDate != nil {
		days := int(math.Floor(f.ExpiryDate.Sub(now).Hours() / 24))
		st.ExpiresInDays = &days
		st.IsExpired = days < 0
		st.IsExpiringSoon = days >= 0 && days <= ExpiringSoonDays
	}

	// one stock tag only; out-of-stock wins
	switch {
	case st.IsOutOfStock:
		st.Tags = append(st.Tags, TagOutOfStock)
	case st.IsLowStock:
		st.Tags = append(st.Tags, TagLowStock)
	}
	switch {
	case st.IsExpired:
		st.Tags = append(st.Tags, TagExpired)
	case st.IsExpiringSoon:
		st.Tags = append(st.Tags, TagExpiringSoon)
	}
	if st.PendingSync {
		st.Tags = append(st.Tags, TagPendingSync)
	}

	return st
}

// Apply returns a copy of item with Status populated
func Apply(item models.InventoryItem, now time.Time) models.InventoryItem {
	st := Derive(Fields{
		Quantity:     item.QuantityInStock,
		ReorderLevel: item.ReorderLevel,
		ExpiryDate:   item.ExpiryDate,
		PendingSync:  item.PendingSync,
	}, now)
	item.Status = &st
	return item
}

// ApplyAll populates Status on every item of the slice in place
func ApplyAll(items []models.InventoryItem, now time.Time) []models.InventoryItem {
	for i := range items {
		items[i] = Apply(items[i], now)
	}
	return items
}
