package engine

import (
	"context"

	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// HandleChange reconciles one record written by another process. The
// snapshot takes the stored copy only when its version is newer, and drops
// the record when the store no longer has it. It is the db.Listener
// callback.
func (e *Engine) HandleChange(ctx context.Context, c db.Change) {
	changed, err := e.reload(ctx, c)
	if err != nil {
		e.logger.Error().Err(err).
			Str("entity", c.Entity).
			Str("id", c.ID.String()).
			Msg("failed to reload record")
		return
	}
	if !changed {
		return
	}

	e.logger.Debug().Str("entity", c.Entity).Str("id", c.ID.String()).Msg("record reloaded")
	e.publish(ctx, e.event(EventRecordReloaded, topicFor(c.Entity), c.Entity, c.ID.String(), nil))
}

func topicFor(entity string) string {
	switch entity {
	case EntityPrescription:
		return TopicPrescriptions
	case EntityReceipt:
		return TopicReceipts
	}
	return TopicQueue
}

// reload reads outside the lock and swaps under it, so a slow store never
// blocks queue reads.
func (e *Engine) reload(ctx context.Context, c db.Change) (bool, error) {
	switch c.Entity {
	case EntityPatient:
		p, err := e.store.Patients.GetByID(ctx, c.ID)
		if err != nil && !apperror.Is(err, apperror.KindNotFound) {
			return false, err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		cur, ok := e.patients[c.ID]
		if p == nil {
			delete(e.patients, c.ID)
			return ok, nil
		}
		if ok && cur.Version >= p.Version {
			return false, nil
		}
		e.patients[c.ID] = p
		return true, nil

	case EntityPrescription:
		p, err := e.store.Prescriptions.GetByID(ctx, c.ID)
		if err != nil && !apperror.Is(err, apperror.KindNotFound) {
			return false, err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		cur, ok := e.prescriptions[c.ID]
		if p == nil {
			delete(e.prescriptions, c.ID)
			return ok, nil
		}
		if ok && cur.Version >= p.Version {
			return false, nil
		}
		e.prescriptions[c.ID] = p
		return true, nil

	case EntityReceipt:
		r, err := e.store.Receipts.GetByID(ctx, c.ID)
		if err != nil && !apperror.Is(err, apperror.KindNotFound) {
			return false, err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		cur, ok := e.receipts[c.ID]
		if r == nil {
			delete(e.receipts, c.ID)
			return ok, nil
		}
		if ok && cur.Version >= r.Version {
			return false, nil
		}
		e.receipts[c.ID] = r
		return true, nil
	}

	e.logger.Warn().Str("entity", c.Entity).Msg("ignoring change for unknown entity")
	return false, nil
}
