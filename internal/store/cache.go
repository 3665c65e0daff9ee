package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"

	"github.com/jmoiron/sqlx"
)

const upsertItemQuery = `
	INSERT INTO cached_items (tenant_id, id, name, data, cached_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, id) DO UPDATE
	SET name = excluded.name, data = excluded.data, cached_at = excluded.cached_at`

// Load returns the cached items of a tenant ordered by name. Empty when nothing is cached.
func (s *Store) Load(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	var rows []string
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT data FROM cached_items WHERE tenant_id = ? ORDER BY name, id"), tenantID)
	if err != nil {
		return nil, apperror.Storage("store.Load", err)
	}

	items := make([]models.InventoryItem, 0, len(rows))
	for _, data := range rows {
		var item models.InventoryItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, apperror.Storage("store.Load", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Get returns one cached item, or nil when it is not cached
func (s *Store) Get(ctx context.Context, tenantID, itemID string) (*models.InventoryItem, error) {
	var data string
	err := s.db.GetContext(ctx, &data,
		s.db.Rebind("SELECT data FROM cached_items WHERE tenant_id = ? AND id = ?"), tenantID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Storage("store.Get", err)
	}

	var item models.InventoryItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, apperror.Storage("store.Get", err)
	}
	return &item, nil
}

// Replace swaps the whole snapshot of a tenant in one transaction and stamps its sync marker
func (s *Store) Replace(ctx context.Context, tenantID string, items []models.InventoryItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperror.Storage("store.Replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind("DELETE FROM cached_items WHERE tenant_id = ?"), tenantID); err != nil {
		return apperror.Storage("store.Replace", err)
	}

	now := s.now()
	for i := range items {
		if err := s.upsertTx(ctx, tx, tenantID, items[i], now); err != nil {
			return apperror.Storage("store.Replace", err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO cache_meta (tenant_id, last_synced_at) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET last_synced_at = excluded.last_synced_at`),
		tenantID, now.UnixMilli())
	if err != nil {
		return apperror.Storage("store.Replace", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("store.Replace", err)
	}
	return nil
}

// Upsert inserts or updates a single cached item. The tenant's sync marker is left untouched.
func (s *Store) Upsert(ctx context.Context, tenantID string, item models.InventoryItem) error {
	data, err := encodeItem(tenantID, item)
	if err != nil {
		return apperror.Storage("store.Upsert", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(upsertItemQuery),
		tenantID, item.ID, item.Name, data, s.now().UnixMilli())
	if err != nil {
		return apperror.Storage("store.Upsert", err)
	}
	return nil
}

// Remove deletes a single cached item
func (s *Store) Remove(ctx context.Context, tenantID, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM cached_items WHERE tenant_id = ? AND id = ?"), tenantID, itemID)
	if err != nil {
		return apperror.Storage("store.Remove", err)
	}
	return nil
}

// Clear removes every cached row and the sync marker of a tenant
func (s *Store) Clear(ctx context.Context, tenantID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperror.Storage("store.Clear", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind("DELETE FROM cached_items WHERE tenant_id = ?"), tenantID); err != nil {
		return apperror.Storage("store.Clear", err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind("DELETE FROM cache_meta WHERE tenant_id = ?"), tenantID); err != nil {
		return apperror.Storage("store.Clear", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("store.Clear", err)
	}
	return nil
}

// LastSynced returns when the tenant's snapshot was last replaced from the remote service
func (s *Store) LastSynced(ctx context.Context, tenantID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.GetContext(ctx, &ms,
		s.db.Rebind("SELECT last_synced_at FROM cache_meta WHERE tenant_id = ?"), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, apperror.Storage("store.LastSynced", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Store) upsertTx(ctx context.Context, tx *sqlx.Tx, tenantID string, item models.InventoryItem, now time.Time) error {
	data, err := encodeItem(tenantID, item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(upsertItemQuery),
		tenantID, item.ID, item.Name, data, now.UnixMilli())
	return err
}

// encodeItem serializes the persisted fields of an item; the derived status is dropped
func encodeItem(tenantID string, item models.InventoryItem) (string, error) {
	item.TenantID = tenantID
	item.Status = nil
	data, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
