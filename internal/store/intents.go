package store

import (
	"context"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"
)

type intentRow struct {
	ID             int64  `db:"id"`
	Type           string `db:"type"`
	TenantID       string `db:"tenant_id"`
	TargetID       string `db:"target_id"`
	Payload        string `db:"payload"`
	IdempotencyKey string `db:"idempotency_key"`
	CreatedAt      int64  `db:"created_at"`
	RetryCount     int    `db:"retry_count"`
	LastError      string `db:"last_error"`
}

func (r intentRow) toModel() models.WriteIntent {
	return models.WriteIntent{
		ID:             r.ID,
		Type:           r.Type,
		TenantID:       r.TenantID,
		TargetID:       r.TargetID,
		Payload:        []byte(r.Payload),
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      time.UnixMilli(r.CreatedAt),
		RetryCount:     r.RetryCount,
		LastError:      r.LastError,
	}
}

// Enqueue appends an intent to the pending write log and returns its id
func (s *Store) Enqueue(ctx context.Context, intent *models.WriteIntent) (int64, error) {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = s.now()
	}

	query := `
		INSERT INTO write_intents (type, tenant_id, target_id, payload, idempotency_key, created_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := s.db.GetContext(ctx, &intent.ID, s.db.Rebind(query),
		intent.Type, intent.TenantID, intent.TargetID, string(intent.Payload),
		intent.IdempotencyKey, intent.CreatedAt.UnixMilli(), intent.RetryCount)
	if err != nil {
		return 0, apperror.Storage("store.Enqueue", err)
	}
	return intent.ID, nil
}

// List returns every pending intent, oldest first
func (s *Store) List(ctx context.Context) ([]models.WriteIntent, error) {
	var rows []intentRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM write_intents ORDER BY id ASC"); err != nil {
		return nil, apperror.Storage("store.List", err)
	}

	intents := make([]models.WriteIntent, 0, len(rows))
	for _, r := range rows {
		intents = append(intents, r.toModel())
	}
	return intents, nil
}

// RemoveIntent deletes an intent after its successful replay
func (s *Store) RemoveIntent(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM write_intents WHERE id = ?"), id); err != nil {
		return apperror.Storage("store.RemoveIntent", err)
	}
	return nil
}

// IncrementRetry records a failed replay attempt
func (s *Store) IncrementRetry(ctx context.Context, id int64, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE write_intents SET retry_count = retry_count + 1, last_error = ? WHERE id = ?"),
		lastErr, id)
	if err != nil {
		return apperror.Storage("store.IncrementRetry", err)
	}
	return nil
}

// CompleteCreate removes a replayed create intent and points the intents queued behind it at the
// server id, in one transaction. Either both happen or the create stays queued.
func (s *Store) CompleteCreate(ctx context.Context, intentID int64, tenantID, tempID, serverID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperror.Storage("store.CompleteCreate", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		tx.Rebind("DELETE FROM write_intents WHERE id = ?"), intentID); err != nil {
		return apperror.Storage("store.CompleteCreate", err)
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind("UPDATE write_intents SET target_id = ? WHERE tenant_id = ? AND target_id = ?"),
		serverID, tenantID, tempID); err != nil {
		return apperror.Storage("store.CompleteCreate", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.Storage("store.CompleteCreate", err)
	}
	return nil
}

// Count returns the number of pending intents across all tenants
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM write_intents"); err != nil {
		return 0, apperror.Storage("store.Count", err)
	}
	return n, nil
}

// CountByTenant returns the number of pending intents of one tenant
func (s *Store) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM write_intents WHERE tenant_id = ?"), tenantID)
	if err != nil {
		return 0, apperror.Storage("store.CountByTenant", err)
	}
	return n, nil
}
