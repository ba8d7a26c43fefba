package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/safemath"
	"github.com/eigerco/lottery/pkg/log"
)

var (
	ErrReadOnly           = errors.New("no transaction signer configured")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrMasterInitialized  = errors.New("master already initialized")
	ErrMasterMissing      = errors.New("master not initialized")
	ErrNoActiveRound      = errors.New("no active round")
	ErrRoundFinished      = errors.New("round already has a winner")
	ErrNotRoundAuthority  = errors.New("wallet is not the round authority")
	ErrNothingToClaim     = errors.New("no unclaimed winning ticket for this wallet")
)

// Submitter signs an instruction with signer's key, sends it and waits for
// confirmation. It lives outside this package.
type Submitter interface {
	Submit(ctx context.Context, signer solana.PublicKey, ix solana.Instruction) (solana.Signature, error)
}

// ReadOnly is a Submitter for deployments without a signer.
type ReadOnly struct{}

func (ReadOnly) Submit(context.Context, solana.PublicKey, solana.Instruction) (solana.Signature, error) {
	return solana.Signature{}, ErrReadOnly
}

// InitializeMaster creates the program's master account.
func (s *Store) InitializeMaster(ctx context.Context) error {
	return s.act(ctx, "Initialized Master", func(st actionState) (solana.Instruction, error) {
		if st.masterInitialized {
			return nil, ErrMasterInitialized
		}
		master, err := s.addresses.Master()
		if err != nil {
			return nil, err
		}
		return s.ix.InitMaster(master, st.wallet)
	})
}

// CreateRound opens round lastRoundID+1 with the given ticket price in
// lamports.
func (s *Store) CreateRound(ctx context.Context, entryFee uint64) error {
	return s.act(ctx, "Created a Lottery", func(st actionState) (solana.Instruction, error) {
		if !st.masterInitialized {
			return nil, ErrMasterMissing
		}
		if entryFee == 0 {
			return nil, &program.ValidationError{Field: "entry fee", Reason: "must be positive"}
		}
		next, ok := safemath.Add32(st.lastRoundID, 1)
		if !ok {
			return nil, &program.ValidationError{Field: "round id", Reason: "round counter exhausted"}
		}
		round, err := s.addresses.Round(next)
		if err != nil {
			return nil, err
		}
		master, err := s.addresses.Master()
		if err != nil {
			return nil, err
		}
		return s.ix.CreateLottery(round, master, st.wallet, entryFee)
	})
}

// BuyTicket buys ticket lastTicketID+1 of the active round.
func (s *Store) BuyTicket(ctx context.Context) error {
	return s.act(ctx, "Bought a Ticket", func(st actionState) (solana.Instruction, error) {
		r, err := st.activeRound()
		if err != nil {
			return nil, err
		}
		if r.HasWinner() {
			return nil, ErrRoundFinished
		}
		next, ok := safemath.Add32(r.LastTicketID, 1)
		if !ok {
			return nil, &program.ValidationError{Field: "ticket id", Reason: "ticket counter exhausted"}
		}
		round, err := s.addresses.Round(r.ID)
		if err != nil {
			return nil, err
		}
		ticket, err := s.addresses.Ticket(r.ID, next)
		if err != nil {
			return nil, err
		}
		return s.ix.BuyTicket(round, ticket, st.wallet, r.ID)
	})
}

// PickWinner asks the program to draw the active round's winner.
func (s *Store) PickWinner(ctx context.Context) error {
	return s.act(ctx, "Winner Picked", func(st actionState) (solana.Instruction, error) {
		r, err := st.activeRound()
		if err != nil {
			return nil, err
		}
		if r.HasWinner() {
			return nil, ErrRoundFinished
		}
		if !r.Authority.Equals(st.wallet) {
			return nil, ErrNotRoundAuthority
		}
		round, err := s.addresses.Round(r.ID)
		if err != nil {
			return nil, err
		}
		return s.ix.PickWinner(round, st.wallet, r.ID)
	})
}

// ClaimPrize claims the active round's pot with the wallet's winning ticket.
func (s *Store) ClaimPrize(ctx context.Context) error {
	return s.act(ctx, "Prize Claimed", func(st actionState) (solana.Instruction, error) {
		r, err := st.activeRound()
		if err != nil {
			return nil, err
		}
		if !st.canClaim {
			return nil, ErrNothingToClaim
		}
		round, err := s.addresses.Round(r.ID)
		if err != nil {
			return nil, err
		}
		ticket, err := s.addresses.Ticket(r.ID, st.winningTicket)
		if err != nil {
			return nil, err
		}
		return s.ix.ClaimPrize(round, ticket, st.wallet, r.ID, st.winningTicket)
	})
}

// actionState is the slice of the store an action needs, copied under lock.
type actionState struct {
	wallet            solana.PublicKey
	masterInitialized bool
	lastRoundID       uint32
	round             *program.Round
	canClaim          bool
	winningTicket     uint32
}

func (a actionState) activeRound() (program.Round, error) {
	if a.round == nil {
		return program.Round{}, ErrNoActiveRound
	}
	return *a.round, nil
}

// act builds and submits one instruction, then resynchronises. Failures
// are recorded in the view and returned; the committed snapshot is only
// replaced by a complete post-action cycle.
func (s *Store) act(ctx context.Context, done string, build func(actionState) (solana.Instruction, error)) error {
	s.mu.Lock()
	s.actionErr, s.success = "", ""
	if s.wallet == nil {
		s.actionErr = ErrWalletNotConnected.Error()
		s.mu.Unlock()
		s.notify()
		return ErrWalletNotConnected
	}
	d, winningTicket := s.walletDerived()
	st := actionState{
		wallet:            *s.wallet,
		masterInitialized: s.current.masterInitialized,
		lastRoundID:       s.current.master.LastRoundID,
		round:             s.current.round,
		canClaim:          d.canClaim,
		winningTicket:     winningTicket,
	}
	s.mu.Unlock()

	logger := log.Sync.With().Str("action", done).Stringer("wallet", st.wallet).Logger()

	ix, err := build(st)
	if err == nil {
		var sig solana.Signature
		sig, err = s.submitter.Submit(ctx, st.wallet, ix)
		if err == nil {
			logger.Info().Stringer("signature", sig).Msg("transaction confirmed")
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("action failed")
		s.fail(err)
		return err
	}

	if err := s.Sync(ctx); err != nil && !errors.Is(err, ErrSuperseded) {
		err = fmt.Errorf("resync after action: %w", err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.success = done
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) fail(err error) {
	s.mu.Lock()
	s.actionErr = err.Error()
	s.mu.Unlock()
	s.notify()
}
