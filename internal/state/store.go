// Package state keeps a synchronised, derived view of the lottery program.
//
// A Store moves through three phases. It starts Uninitialized, enters
// Syncing whenever a cycle starts (first connection, refresh, wallet change
// or a successful action) and reaches Synced once the master account, the
// active round and everything derived from them were read. Every cycle is
// tagged with a generation; a cycle that finishes after a newer one started
// is discarded so stale reads never overwrite fresher state.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/atomic"

	"github.com/eigerco/lottery/internal/address"
	"github.com/eigerco/lottery/internal/chain"
	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/roster"
	"github.com/eigerco/lottery/pkg/log"
)

// ErrSuperseded is returned by Sync when a newer cycle started before this
// one finished. Its results were dropped.
var ErrSuperseded = errors.New("sync cycle superseded")

type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseSyncing
	PhaseSynced
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseSyncing:
		return "syncing"
	case PhaseSynced:
		return "synced"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{PhaseUninitialized, PhaseSyncing, PhaseSynced} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Reader is the ledger access a sync cycle needs. *chain.Reader satisfies it.
type Reader interface {
	FetchMaster(ctx context.Context) (program.Master, error)
	FetchRoundByID(ctx context.Context, roundID uint32) (program.Round, error)
	FetchTickets(ctx context.Context, filter chain.TicketFilter) ([]program.Ticket, error)
}

// HistoryBuilder reconstructs settled rounds. *history.Builder satisfies it.
type HistoryBuilder interface {
	Build(ctx context.Context, latest uint32, rosters map[uint32]roster.Roster) ([]history.Snapshot, error)
}

// chainState is what one successful cycle read from the ledger.
type chainState struct {
	masterInitialized bool
	master            program.Master
	round             *program.Round
	pot               uint64
	rosters           map[uint32]roster.Roster
	history           []history.Snapshot
	// userWinningTicket is the wallet's ticket matching the active round's
	// winner, or 0.
	userWinningTicket uint32
}

// derived holds the fields recomputed on every transition into Synced.
type derived struct {
	isFinished  bool
	canClaim    bool
	isAuthority bool
}

// Store is the single mutable view of the program shared with consumers.
type Store struct {
	reader    Reader
	builder   HistoryBuilder
	addresses *address.Deriver
	ix        program.Instructions
	submitter Submitter

	generation *atomic.Uint64

	mu      sync.RWMutex
	phase   Phase
	wallet  *solana.PublicKey
	current chainState
	derived derived
	// derivedFor is the wallet derived was computed against. It lags
	// wallet until a cycle started after SetWallet commits.
	derivedFor *solana.PublicKey

	// syncErr is the last failed cycle's error, cleared by the next commit.
	// actionErr and success describe the last action.
	syncErr   string
	actionErr string
	success   string

	syncedAt time.Time
	// committed is the generation of the cycle behind current.
	committed uint64

	subMu       sync.Mutex
	subscribers map[chan struct{}]struct{}
}

type Option func(*Store)

// WithWallet sets the connected user before the first cycle.
func WithWallet(w solana.PublicKey) Option {
	return func(s *Store) { s.wallet = &w }
}

// WithCachedHistory seeds the history shown before the first cycle commits.
func WithCachedHistory(h []history.Snapshot) Option {
	return func(s *Store) { s.current.history = h }
}

func NewStore(reader Reader, builder HistoryBuilder, addresses *address.Deriver, submitter Submitter, opts ...Option) *Store {
	s := &Store{
		reader:      reader,
		builder:     builder,
		addresses:   addresses,
		ix:          program.Instructions{ProgramID: addresses.ProgramID()},
		submitter:   submitter,
		generation:  atomic.NewUint64(0),
		subscribers: make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWallet changes the connected user and resynchronises. A nil wallet
// disconnects.
func (s *Store) SetWallet(ctx context.Context, w *solana.PublicKey) error {
	s.mu.Lock()
	if w != nil {
		cp := *w
		s.wallet = &cp
	} else {
		s.wallet = nil
	}
	s.mu.Unlock()
	return s.Sync(ctx)
}

// Sync runs one synchronisation cycle. On failure the previous snapshot is
// kept, the store stays in Syncing and the error is surfaced in the view.
func (s *Store) Sync(ctx context.Context) error {
	gen := s.generation.Inc()

	s.mu.Lock()
	s.phase = PhaseSyncing
	wallet := s.wallet
	s.mu.Unlock()
	s.notify()

	logger := log.Sync.With().Uint64("generation", gen).Logger()
	logger.Debug().Msg("sync cycle started")

	next, err := s.fetch(ctx, wallet)

	s.mu.Lock()
	if gen != s.generation.Load() {
		s.mu.Unlock()
		logger.Debug().Msg("sync cycle superseded, results dropped")
		return ErrSuperseded
	}
	if err != nil {
		s.syncErr = err.Error()
		s.mu.Unlock()
		s.notify()
		logger.Error().Err(err).Msg("sync cycle failed")
		return err
	}
	s.current = next
	s.derived = derive(next, wallet)
	s.derivedFor = wallet
	s.phase = PhaseSynced
	s.syncErr = ""
	s.committed = gen
	s.syncedAt = time.Now()
	s.mu.Unlock()
	s.notify()

	logger.Info().
		Bool("masterInitialized", next.masterInitialized).
		Uint32("round", next.master.LastRoundID).
		Int("history", len(next.history)).
		Msg("sync cycle committed")
	return nil
}

// fetch reads master, then the active round, then tickets and history, in
// that order since each step needs ids from the previous one.
func (s *Store) fetch(ctx context.Context, wallet *solana.PublicKey) (chainState, error) {
	master, err := s.reader.FetchMaster(ctx)
	if program.IsNotFound(err) {
		return chainState{history: []history.Snapshot{}}, nil
	}
	if err != nil {
		return chainState{}, fmt.Errorf("fetch master: %w", err)
	}
	next := chainState{masterInitialized: true, master: master, history: []history.Snapshot{}}
	if master.LastRoundID == 0 {
		return next, nil
	}

	round, err := s.reader.FetchRoundByID(ctx, master.LastRoundID)
	if err != nil {
		return chainState{}, fmt.Errorf("fetch round %d: %w", master.LastRoundID, err)
	}
	if err := round.Validate(); err != nil {
		return chainState{}, err
	}
	if next.pot, err = round.Pot(); err != nil {
		return chainState{}, err
	}
	next.round = &round

	// Everything below is optional: failures are logged and leave the
	// affected field empty.
	tickets, err := s.reader.FetchTickets(ctx, chain.TicketFilter{})
	if err == nil {
		next.rosters = roster.Aggregate(tickets)
	} else if ctx.Err() != nil {
		return chainState{}, ctx.Err()
	} else {
		log.Sync.Warn().Err(err).Msg("listing tickets failed, rosters left empty")
	}

	if wallet != nil && round.HasWinner() {
		next.userWinningTicket, err = s.userWinningTicket(ctx, round, *wallet)
		if err != nil {
			if ctx.Err() != nil {
				return chainState{}, ctx.Err()
			}
			log.Sync.Warn().Err(err).Msg("listing wallet tickets failed")
		}
	}

	hist, err := s.builder.Build(ctx, master.LastRoundID, next.rosters)
	if hist == nil {
		if err == nil {
			err = errors.New("history builder returned no result")
		}
		if ctx.Err() != nil {
			return chainState{}, ctx.Err()
		}
		log.Sync.Warn().Err(err).Msg("history unavailable")
	} else {
		next.history = hist
		if err != nil {
			log.Sync.Warn().Err(err).Msg("history is partial")
		}
	}
	return next, nil
}

// userWinningTicket returns the id of the wallet's ticket that won the
// active round, or 0. Only tickets of that round are considered.
func (s *Store) userWinningTicket(ctx context.Context, round program.Round, wallet solana.PublicKey) (uint32, error) {
	roundID := round.ID
	tickets, err := s.reader.FetchTickets(ctx, chain.TicketFilter{RoundID: &roundID, Buyer: &wallet})
	if err != nil {
		return 0, err
	}
	for _, t := range tickets {
		if t.RoundID == round.ID && t.ID == round.Winner() && t.Authority.Equals(wallet) {
			return t.ID, nil
		}
	}
	return 0, nil
}

func derive(cs chainState, wallet *solana.PublicKey) derived {
	if cs.round == nil {
		return derived{}
	}
	d := derived{isFinished: cs.round.HasWinner()}
	d.canClaim = d.isFinished && !cs.round.Claimed && cs.userWinningTicket != 0
	d.isAuthority = wallet != nil && wallet.Equals(cs.round.Authority)
	return d
}

func sameWallet(a, b *solana.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equals(*b)
}

// walletDerived returns the derived fields and winning ticket valid for the
// current wallet. Ticket ownership read for another wallet is not carried
// over; authority only needs the round and is recomputed. Callers hold mu.
func (s *Store) walletDerived() (derived, uint32) {
	if sameWallet(s.derivedFor, s.wallet) {
		return s.derived, s.current.userWinningTicket
	}
	d := derived{isFinished: s.derived.isFinished}
	if s.wallet != nil && s.current.round != nil {
		d.isAuthority = s.wallet.Equals(s.current.round.Authority)
	}
	return d, 0
}

// Subscribe returns a channel signalled after every state change. Signals
// coalesce; read View to get the state. Call cancel to unsubscribe.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, ch)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
