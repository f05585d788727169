// Package idempotency implements the durable request ledger that turns retried
// and concurrent duplicate calls into a single execution plus replays.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
)

// Mode tells the caller what to do with a request after consulting the ledger.
type Mode string

const (
	// ModeFresh means this caller inserted the record and must execute the action.
	ModeFresh Mode = "FRESH"
	// ModeReplay means a previous attempt finished; return the stored response.
	ModeReplay Mode = "REPLAY"
	// ModeInProgress means another attempt with the same key is still running.
	ModeInProgress Mode = "IN_PROGRESS"
	// ModeMismatch means the key was reused for a different request body.
	ModeMismatch Mode = "MISMATCH"
)

var (
	ErrRecordNotFound = errors.New("idempotency record not found")
	ErrKeyMismatch    = errors.New("idempotency key reused with a different request")
	ErrSweepRunning   = errors.New("idempotency sweep already running")
)

// Outcome is the result of StartOrReplay.
type Outcome struct {
	Mode           Mode
	ResponseStatus int
	ResponseBody   json.RawMessage
}

// Ledger is the storage port for idempotency records.
type Ledger interface {
	// StartOrReplay atomically inserts an IN_PROGRESS record or reports the
	// state of the existing one. Two concurrent callers with the same key never
	// both observe ModeFresh.
	StartOrReplay(ctx context.Context, actionKey, tenantID, userID, idempotencyKey, requestHash string) (Outcome, error)

	// Complete stores the response of an IN_PROGRESS record. Completing an
	// already completed record is a no-op.
	Complete(ctx context.Context, actionKey, tenantID, idempotencyKey string, responseStatus int, responseBody json.RawMessage) error

	// Release drops an IN_PROGRESS record whose attempt ended without side
	// effects, so a retry starts fresh.
	Release(ctx context.Context, actionKey, tenantID, idempotencyKey string) error
}
