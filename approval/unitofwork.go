package approval

import (
	"context"
	"time"

	"github.com/mmdatafocus/approvals_backend/audit"
	"github.com/mmdatafocus/approvals_backend/idempotency"
	"github.com/mmdatafocus/approvals_backend/outbox"
	"github.com/mmdatafocus/approvals_backend/policy"
	"github.com/mmdatafocus/approvals_backend/workflow"
	"gorm.io/gorm"
)

// Stores is the set of stores bound to one database handle.
type Stores struct {
	Ledger    idempotency.Ledger
	Policies  policy.Store
	Workflows workflow.Engine
	Outbox    outbox.Store
	Audit     audit.Recorder
}

// UnitOfWork runs fn with stores bound to a single transaction: everything fn
// writes commits together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(s Stores) error) error
	// Stores returns stores outside any transaction; each call commits on its own.
	Stores() Stores
}

type GormUnitOfWork struct {
	DB *gorm.DB
	// Now overrides the clock of every store (tests).
	Now func() time.Time
}

func NewGormUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{DB: db}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(s Stores) error) error {
	return u.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(u.bind(tx))
	})
}

func (u *GormUnitOfWork) Stores() Stores {
	return u.bind(u.DB)
}

func (u *GormUnitOfWork) bind(db *gorm.DB) Stores {
	ledger := idempotency.NewGormLedger(db)
	engine := workflow.NewGormEngine(db)
	out := outbox.NewGormStore(db)
	rec := audit.NewGormRecorder(db)
	if u.Now != nil {
		ledger = ledger.WithClock(u.Now)
		engine = engine.WithClock(u.Now)
		out = out.WithClock(u.Now)
		rec = rec.WithClock(u.Now)
	}
	return Stores{
		Ledger:    ledger,
		Policies:  policy.NewGormStore(db),
		Workflows: engine,
		Outbox:    out,
		Audit:     rec,
	}
}
