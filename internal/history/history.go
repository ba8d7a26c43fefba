package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/roster"
	"github.com/eigerco/lottery/pkg/log"
)

// Snapshot is a settled round joined with its winning ticket and roster.
type Snapshot struct {
	RoundID       uint32           `json:"roundId"`
	WinnerID      uint32           `json:"winnerId"`
	WinnerAddress solana.PublicKey `json:"winnerAddress"`
	Prize         uint64           `json:"prize"`
	PrizeSOL      string           `json:"prizeSol"`
	Participants  roster.Roster    `json:"participants"`
}

// Source resolves rounds and tickets by id.
type Source interface {
	FetchRoundByID(ctx context.Context, roundID uint32) (program.Round, error)
	FetchTicketByID(ctx context.Context, roundID, ticketID uint32) (program.Ticket, error)
}

// Cache holds snapshots of rounds that already have a winner. Such rounds
// no longer sell tickets, so their snapshot never changes.
type Cache interface {
	GetSnapshot(roundID uint32) (Snapshot, bool, error)
	PutSnapshot(s Snapshot) error
}

// Builder reconstructs the winner history by walking round ids backward.
type Builder struct {
	source  Source
	cache   Cache
	workers int
}

type Option func(*Builder)

// WithCache serves and records settled rounds through c.
func WithCache(c Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithWorkers fetches up to n rounds concurrently. Output order is
// unaffected.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

func NewBuilder(source Source, opts ...Option) *Builder {
	b := &Builder{source: source, workers: 1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns one snapshot per decided round in latest..1, most recent
// first. Rounds without a winner are skipped. A round that cannot be
// resolved is left out and its error joined into the second return value;
// the remaining rounds are still returned. Only context cancellation aborts
// the walk, in which case the snapshot slice is nil.
//
// rosters may be nil when the ticket listing failed; rounds then carry
// empty rosters.
func (b *Builder) Build(ctx context.Context, latest uint32, rosters map[uint32]roster.Roster) ([]Snapshot, error) {
	if latest == 0 {
		return []Snapshot{}, nil
	}

	// Slot i holds round latest-i.
	slots := make([]*Snapshot, latest)
	errs := make([]error, latest)

	resolve := func(ctx context.Context, i int) error {
		id := latest - uint32(i)
		s, err := b.resolve(ctx, id, rosters)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Sync.Warn().Err(err).Uint32("round", id).Msg("round excluded from history")
			errs[i] = fmt.Errorf("round %d: %w", id, err)
			return nil
		}
		slots[i] = s
		return nil
	}

	if b.workers <= 1 {
		for i := range slots {
			if err := resolve(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.workers)
		for i := range slots {
			g.Go(func() error { return resolve(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make([]Snapshot, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, errors.Join(errs...)
}

// resolve returns nil without error for a round that has no winner yet.
func (b *Builder) resolve(ctx context.Context, id uint32, rosters map[uint32]roster.Roster) (*Snapshot, error) {
	if b.cache != nil {
		s, ok, err := b.cache.GetSnapshot(id)
		if err != nil {
			log.Sync.Warn().Err(err).Uint32("round", id).Msg("snapshot cache read failed")
		} else if ok {
			return &s, nil
		}
	}

	round, err := b.source.FetchRoundByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !round.HasWinner() {
		return nil, nil
	}
	if err := round.Validate(); err != nil {
		return nil, err
	}
	prize, err := round.Pot()
	if err != nil {
		return nil, err
	}

	ticket, err := b.source.FetchTicketByID(ctx, id, round.Winner())
	if err != nil {
		return nil, fmt.Errorf("winning ticket %d: %w", round.Winner(), err)
	}
	if ticket.RoundID != id || ticket.ID != round.Winner() {
		return nil, program.Inconsistent("winning ticket account holds round %d ticket %d, want round %d ticket %d",
			ticket.RoundID, ticket.ID, id, round.Winner())
	}

	s := &Snapshot{
		RoundID:       id,
		WinnerID:      round.Winner(),
		WinnerAddress: ticket.Authority,
		Prize:         prize,
		PrizeSOL:      program.FormatSOL(prize),
		Participants:  roster.Lookup(rosters, id),
	}
	// A nil roster map means tickets could not be listed this cycle; do not
	// persist a roster that may be incomplete.
	if b.cache != nil && rosters != nil {
		if err := b.cache.PutSnapshot(*s); err != nil {
			log.Sync.Warn().Err(err).Uint32("round", id).Msg("snapshot cache write failed")
		}
	}
	return s, nil
}
