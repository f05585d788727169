package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/models"
)

// ErrConsumerBusy is returned while another delivery of the same event is
// being applied; the worker retries it later.
var ErrConsumerBusy = errors.New("event is being processed by another consumer")

const consumerUser = "outbox-worker"

// Handler applies one event.
type Handler func(ctx context.Context, ev models.OutboxEvent) error

// IdempotentHandler applies each event id at most once per event type, so a
// redelivered event is acknowledged without running handle again. A failed
// handle releases its ledger record and the event is retried.
func IdempotentHandler(ledger idempotency.Ledger, handle Handler) PublisherFunc {
	return func(ctx context.Context, ev models.OutboxEvent) error {
		actionKey := "outbox:" + ev.EventType
		hash, err := idempotency.RequestHash(json.RawMessage(ev.Payload))
		if err != nil {
			return err
		}
		out, err := ledger.StartOrReplay(ctx, actionKey, ev.TenantId, consumerUser, ev.ID, hash)
		if err != nil {
			return err
		}
		switch out.Mode {
		case idempotency.ModeReplay:
			return nil
		case idempotency.ModeInProgress:
			return ErrConsumerBusy
		case idempotency.ModeMismatch:
			return fmt.Errorf("event %s: %w", ev.ID, idempotency.ErrKeyMismatch)
		}

		if err := handle(ctx, ev); err != nil {
			if relErr := ledger.Release(ctx, actionKey, ev.TenantId, ev.ID); relErr != nil {
				return errors.Join(err, relErr)
			}
			return err
		}
		return ledger.Complete(ctx, actionKey, ev.TenantId, ev.ID, 200, json.RawMessage(`{}`))
	}
}
