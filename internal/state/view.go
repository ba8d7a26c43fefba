package state

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/roster"
)

// View is the read-only state exposed to the presentation layer.
type View struct {
	Phase               Phase              `json:"phase"`
	Generation          uint64             `json:"generation"`
	SyncedAt            time.Time          `json:"syncedAt"`
	IsMasterInitialized bool               `json:"isMasterInitialized"`
	Connected           bool               `json:"connected"`
	Wallet              *solana.PublicKey  `json:"wallet,omitempty"`
	IsRoundAuthority    bool               `json:"isRoundAuthority"`
	RoundID             uint32             `json:"roundId"`
	TicketPrice         uint64             `json:"ticketPrice"`
	Pot                 uint64             `json:"pot"`
	PotSOL              string             `json:"potSol"`
	Participants        roster.Roster      `json:"participants"`
	History             []history.Snapshot `json:"history"`
	IsFinished          bool               `json:"isFinished"`
	CanClaim            bool               `json:"canClaim"`
	WinningTicketID     uint32             `json:"winningTicketId,omitempty"`
	Error               string             `json:"error"`
	Success             string             `json:"success"`
}

// View returns a copy of the current state.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, winningTicket := s.walletDerived()
	v := View{
		Phase:               s.phase,
		Generation:          s.committed,
		SyncedAt:            s.syncedAt,
		IsMasterInitialized: s.current.masterInitialized,
		Connected:           s.wallet != nil,
		IsRoundAuthority:    d.isAuthority,
		RoundID:             s.current.master.LastRoundID,
		Pot:                 s.current.pot,
		PotSOL:              program.FormatSOL(s.current.pot),
		Participants:        roster.Lookup(s.current.rosters, s.current.master.LastRoundID),
		History:             append([]history.Snapshot(nil), s.current.history...),
		IsFinished:          d.isFinished,
		CanClaim:            d.canClaim,
		WinningTicketID:     winningTicket,
		Error:               s.actionErr,
		Success:             s.success,
	}
	if v.Error == "" {
		v.Error = s.syncErr
	}
	if v.History == nil {
		v.History = []history.Snapshot{}
	}
	if s.wallet != nil {
		w := *s.wallet
		v.Wallet = &w
	}
	if s.current.round != nil {
		v.TicketPrice = s.current.round.TicketPrice
	}
	return v
}
