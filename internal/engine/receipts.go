package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/medqueue/medqueue/internal/domain/receipt"
	"github.com/medqueue/medqueue/pkg/apperror"
)

// ScanResult is a receipt after one scan plus the advisory fraud signal.
type ScanResult struct {
	Receipt        *receipt.Receipt `json:"receipt"`
	FraudSuspected bool             `json:"fraud_suspected"`
}

// ScanReceipt counts one verification of id. A repeat scan marks the
// receipt fulfilled and raises the fraud signal without failing.
func (e *Engine) ScanReceipt(ctx context.Context, id uuid.UUID) (*ScanResult, error) {
	var out ScanResult
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		r, err := t.receipt(id)
		if err != nil {
			return err
		}
		fraud := r.Scan()
		if err := t.saveReceipt(ctx, r); err != nil {
			return err
		}
		t.emit(e.receiptEvent(EventReceiptScanned, r, fraud))
		if fraud {
			t.emit(e.receiptEvent(EventReceiptFraudSuspected, r, true))
		}
		out = ScanResult{Receipt: r, FraudSuspected: fraud}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := e.logger.Info()
	if out.FraudSuspected {
		log = e.logger.Warn()
	}
	log.Str("receipt_id", id.String()).
		Str("token", out.Receipt.PatientToken).
		Int("scan_count", out.Receipt.ScanCount).
		Str("status", string(out.Receipt.Status)).
		Bool("fraud_suspected", out.FraudSuspected).
		Msg("receipt scanned")

	out.Receipt = out.Receipt.Clone()
	return &out, nil
}

// InvalidateReceipt voids a receipt administratively.
func (e *Engine) InvalidateReceipt(ctx context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	var out *receipt.Receipt
	err := e.write(ctx, func(ctx context.Context, t *txn) error {
		r, err := t.receipt(id)
		if err != nil {
			return err
		}
		if err := r.Invalidate(); err != nil {
			return err
		}
		if err := t.saveReceipt(ctx, r); err != nil {
			return err
		}
		t.emit(e.receiptEvent(EventReceiptInvalidated, r, false))
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info().Str("receipt_id", id.String()).Str("token", out.PatientToken).Msg("receipt invalidated")
	return out.Clone(), nil
}

func (e *Engine) GetReceipt(_ context.Context, id uuid.UUID) (*receipt.Receipt, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.receipts[id]
	if !ok {
		return nil, apperror.NotFound("receipt %s not found", id)
	}
	return r.Clone(), nil
}
