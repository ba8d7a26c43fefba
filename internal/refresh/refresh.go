// Package refresh triggers state synchronisation on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eigerco/lottery/internal/state"
	"github.com/eigerco/lottery/pkg/log"
)

// Syncer is satisfied by *state.Store.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Accepts both five-field specs and specs with a leading seconds field,
// plus descriptors such as "@every 30s".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	cron    *cron.Cron
	job     *syncJob
	cancel  context.CancelFunc
	entryID cron.EntryID
}

// New schedules syncer.Sync according to spec. Each run is bounded by
// timeout; a run still in progress when the next one is due causes the
// latter to be skipped.
func New(syncer Syncer, spec string, timeout time.Duration) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	job := &syncJob{ctx: ctx, syncer: syncer, timeout: timeout}
	id, err := c.AddJob(spec, job)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, job: job, cancel: cancel, entryID: id}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Sync.Info().Time("next", s.Next()).Msg("refresh scheduler started")
}

// Next returns the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Stop cancels the running sync, if any, and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

type syncJob struct {
	ctx     context.Context
	syncer  Syncer
	timeout time.Duration
}

func (j *syncJob) Run() {
	ctx, cancel := context.WithTimeout(j.ctx, j.timeout)
	defer cancel()

	start := time.Now()
	err := j.syncer.Sync(ctx)
	switch {
	case err == nil:
		log.Sync.Debug().Dur("took", time.Since(start)).Msg("scheduled refresh done")
	case errors.Is(err, state.ErrSuperseded):
		log.Sync.Debug().Msg("scheduled refresh superseded")
	default:
		log.Sync.Warn().Err(err).Msg("scheduled refresh failed")
	}
}
