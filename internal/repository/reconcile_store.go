// internal/repository/reconcile_store.go
package repository

import (
	"context"
	"database/sql"

	apperrors "reengage-engine/internal/common/errors"
	"reengage-engine/internal/models"
)

// ReconcileStore applies provider events transactionally. Each Apply method
// records the (external_id, kind, provider_event_id) tuple in the
// processed_events table and performs the guarded state transition inside
// the same transaction, so a redelivered event can never be applied twice
// and a crash can never record an event without its effect.
type ReconcileStore struct {
	db *sql.DB
}

func NewReconcileStore(db *sql.DB) *ReconcileStore {
	return &ReconcileStore{db: db}
}

// markProcessed inserts the idempotency tuple. Returns false when the exact
// event was seen before (unique violation), which makes the whole
// transaction a no-op for the caller.
func markProcessed(ctx context.Context, tx *sql.Tx, ev *models.ProviderEvent) (bool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (external_id, kind, provider_event_id, occurred_at, received_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		ev.ExternalID, ev.Kind, ev.ProviderEventID, ev.OccurredAt)
	if err != nil {
		if uniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ApplyDelivered advances a sent message to delivered. Terminal negative
// states are authoritative: a delivered event on a bounced or failed message
// is recorded for idempotency but changes nothing.
func (s *ReconcileStore) ApplyDelivered(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.begin", err)
	}
	defer tx.Rollback()

	fresh, err := markProcessed(ctx, tx, ev)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.mark", err)
	}
	if !fresh {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = 'delivered', delivered_at = $2
		WHERE id = $1 AND status = 'sent'`, messageID, ev.OccurredAt)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.delivered", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.commit", err)
	}
	return true, nil
}

// ApplyBounced advances a sent message to bounced.
func (s *ReconcileStore) ApplyBounced(ctx context.Context, ev *models.ProviderEvent, messageID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.begin", err)
	}
	defer tx.Rollback()

	fresh, err := markProcessed(ctx, tx, ev)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.mark", err)
	}
	if !fresh {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_messages
		SET status = 'bounced', error_message = 'bounced'
		WHERE id = $1 AND status = 'sent'`, messageID)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.bounced", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.commit", err)
	}
	return true, nil
}

// ApplyOptOut marks the message opt-out AND flips the patient DNC flag in
// one transaction. This is the compliance-critical path: a crash between the
// two writes must not leave the patient contactable, so they commit or fail
// together.
func (s *ReconcileStore) ApplyOptOut(ctx context.Context, ev *models.ProviderEvent, messageID, patientID int64, responseText string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewDNCPropagationError(patientID, err)
	}
	defer tx.Rollback()

	fresh, err := markProcessed(ctx, tx, ev)
	if err != nil {
		return false, apperrors.NewDNCPropagationError(patientID, err)
	}
	if !fresh {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_messages
		SET is_opt_out = TRUE, response_text = $2, responded_at = $3
		WHERE id = $1`, messageID, responseText, ev.OccurredAt)
	if err != nil {
		return false, apperrors.NewDNCPropagationError(patientID, err)
	}

	if err := setDNC(ctx, tx, patientID); err != nil {
		return false, apperrors.NewDNCPropagationError(patientID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewDNCPropagationError(patientID, err)
	}
	return true, nil
}

// ApplyInboundReply records the response text and bumps the campaign's
// responded counter.
func (s *ReconcileStore) ApplyInboundReply(ctx context.Context, ev *models.ProviderEvent, messageID, campaignID int64, responseText string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.begin", err)
	}
	defer tx.Rollback()

	fresh, err := markProcessed(ctx, tx, ev)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.mark", err)
	}
	if !fresh {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outreach_messages
		SET response_text = $2, responded_at = $3
		WHERE id = $1`, messageID, responseText, ev.OccurredAt)
	if err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.reply", err)
	}

	if err := incrementResponded(ctx, tx, campaignID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewQueryExecutionError("reconcile.commit", err)
	}
	return true, nil
}
