package actionplan

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fieldstone/leadflow/internal/core/db"
	"github.com/fieldstone/leadflow/internal/core/store"
)

// Dispatcher promotes pending executions to due on a fixed cadence. Agents
// work due executions through the API; the dispatcher only moves the clock,
// it does not perform the follow-ups itself.
type Dispatcher struct {
	q     *db.Queries
	plans *store.Plans
	log   *zap.Logger
	cron  *cron.Cron
	spec  string
}

// NewDispatcher creates a dispatcher ticking on the given cron spec
// (typically "@every 30s").
func NewDispatcher(q *db.Queries, plans *store.Plans, log *zap.Logger, spec string) *Dispatcher {
	return &Dispatcher{
		q:     q,
		plans: plans,
		log:   log,
		cron:  cron.New(),
		spec:  spec,
	}
}

// Start registers the tick job and begins the schedule.
func (d *Dispatcher) Start() error {
	if _, err := d.cron.AddFunc(d.spec, d.tick); err != nil {
		return err
	}
	d.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
}

func (d *Dispatcher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := d.plans.MarkDue(ctx, d.q.DB(), time.Now().UTC())
	if err != nil {
		d.log.Error("failed to promote due executions", zap.Error(err))
		return
	}
	if n > 0 {
		d.log.Info("promoted executions to due", zap.Int64("count", n))
	}
}
