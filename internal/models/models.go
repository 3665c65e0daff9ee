package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TempIDPrefix marks identifiers generated locally for provisional records
const TempIDPrefix = "tmp-"

// IsTempID reports whether id was generated locally and has no server counterpart yet
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// InventoryItem represents a stock line of a tenant (pharmacy / service location)
type InventoryItem struct {
	ID                   string           `json:"id"`
	TenantID             string           `json:"tenantId"`
	Name                 string           `json:"name"`
	Category             string           `json:"category,omitempty"`
	DosageForm           string           `json:"dosageForm,omitempty"`
	Strength             string           `json:"strength,omitempty"`
	QuantityInStock      int              `json:"quantityInStock"`
	ReorderLevel         int              `json:"reorderLevel"`
	UnitPrice            decimal.Decimal  `json:"unitPrice"`
	SellingPrice         decimal.Decimal  `json:"sellingPrice"`
	ExpiryDate           *time.Time       `json:"expiryDate,omitempty"`
	RequiresPrescription bool             `json:"requiresPrescription"`
	IsAvailable          bool             `json:"isAvailable"`
	UpdatedAt            time.Time        `json:"updatedAt"`
	PendingSync          bool             `json:"pendingSync"`
	Status               *InventoryStatus `json:"status,omitempty"`
}

// InventoryStatus holds presentation flags derived from raw item fields. Never persisted.
type InventoryStatus struct {
	IsOutOfStock   bool     `json:"isOutOfStock"`
	IsLowStock     bool     `json:"isLowStock"`
	ExpiresInDays  *int     `json:"expiresInDays,omitempty"`
	IsExpired      bool     `json:"isExpired"`
	IsExpiringSoon bool     `json:"isExpiringSoon"`
	PendingSync    bool     `json:"pendingSync"`
	Tags           []string `json:"tags"`
}

// CreateItemPayload is the body sent to the remote service to create an item
type CreateItemPayload struct {
	Name                 string          `json:"name" binding:"required"`
	Category             string          `json:"category,omitempty"`
	DosageForm           string          `json:"dosageForm,omitempty"`
	Strength             string          `json:"strength,omitempty"`
	QuantityInStock      int             `json:"quantityInStock" binding:"min=0"`
	ReorderLevel         int             `json:"reorderLevel" binding:"min=0"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	SellingPrice         decimal.Decimal `json:"sellingPrice"`
	ExpiryDate           *time.Time      `json:"expiryDate,omitempty"`
	RequiresPrescription bool            `json:"requiresPrescription"`
	IsAvailable          *bool           `json:"isAvailable,omitempty"`
}

// AdjustStockPayload carries a relative stock change. Delta may be negative.
type AdjustStockPayload struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// Write intent types
const (
	IntentTypeCreate = "create"
	IntentTypeAdjust = "adjust"
)

// WriteIntent is a queued write that could not reach the remote service
type WriteIntent struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	TenantID       string          `json:"tenantId"`
	TargetID       string          `json:"targetId"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
	CreatedAt      time.Time       `json:"createdAt"`
	RetryCount     int             `json:"retryCount"`
	LastError      string          `json:"lastError,omitempty"`
}

// DrainResult summarizes one replay of the pending write log
type DrainResult struct {
	Processed int  `json:"processed"`
	Failures  int  `json:"failures"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Inventory view sources
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
)

// InventoryView is what the UI receives for a tenant's inventory list
type InventoryView struct {
	TenantID string          `json:"tenantId"`
	Source   string          `json:"source"`
	CachedAt *time.Time      `json:"cachedAt,omitempty"`
	Items    []InventoryItem `json:"items"`
}
