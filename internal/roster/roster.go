package roster

import (
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/program"
)

// Participant is one ticket held in a round.
type Participant struct {
	Address  solana.PublicKey `json:"address"`
	TicketID uint32           `json:"ticketId"`
}

// Roster lists the participants of a round. Count always equals
// len(Participants).
type Roster struct {
	RoundID      uint32        `json:"roundId"`
	Count        int           `json:"count"`
	Participants []Participant `json:"participants"`
}

// Aggregate groups tickets by round, keeping first-seen order inside each
// round.
func Aggregate(tickets []program.Ticket) map[uint32]Roster {
	out := make(map[uint32]Roster)
	for _, t := range tickets {
		r := out[t.RoundID]
		r.RoundID = t.RoundID
		r.Participants = append(r.Participants, Participant{Address: t.Authority, TicketID: t.ID})
		r.Count = len(r.Participants)
		out[t.RoundID] = r
	}
	return out
}

// Empty is the roster of a round nobody entered.
func Empty(roundID uint32) Roster {
	return Roster{RoundID: roundID, Participants: []Participant{}}
}

// Lookup returns the roster for roundID, or an empty one.
func Lookup(rosters map[uint32]Roster, roundID uint32) Roster {
	if r, ok := rosters[roundID]; ok {
		return r
	}
	return Empty(roundID)
}

// Holds reports whether addr owns ticketID in the roster.
func (r Roster) Holds(addr solana.PublicKey, ticketID uint32) bool {
	for _, p := range r.Participants {
		if p.TicketID == ticketID && p.Address.Equals(addr) {
			return true
		}
	}
	return false
}

// RoundIDs returns the keys of rosters in ascending order.
func RoundIDs(rosters map[uint32]Roster) []uint32 {
	ids := make([]uint32, 0, len(rosters))
	for id := range rosters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
