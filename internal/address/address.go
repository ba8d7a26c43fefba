// Package address derives the program accounts of the lottery.
//
// Seed layout, which must match the program byte for byte:
//
//	master: "master"
//	round:  "lottery" | u32 little-endian round id
//	ticket: "ticket"  | round address (32 bytes) | u32 little-endian ticket id
//
// Each seed list is combined with the program id through the standard
// program-derived-address search (highest bump that lands off the curve).
package address

import (
	"fmt"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/program"
)

type Role uint8

const (
	RoleMaster Role = iota
	RoleRound
	RoleTicket
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleRound:
		return "round"
	case RoleTicket:
		return "ticket"
	default:
		return "unknown"
	}
}

// arity is the number of ids each role takes.
func (r Role) arity() int {
	switch r {
	case RoleRound:
		return 1
	case RoleTicket:
		return 2
	default:
		return 0
	}
}

// Deriver maps (role, ids) to account addresses for one program.
// Results are memoised; the derivation is pure.
type Deriver struct {
	programID solana.PublicKey

	mu    sync.RWMutex
	cache map[cacheKey]solana.PublicKey
}

type cacheKey struct {
	role     Role
	roundID  uint32
	ticketID uint32
}

func NewDeriver(programID solana.PublicKey) *Deriver {
	return &Deriver{
		programID: programID,
		cache:     make(map[cacheKey]solana.PublicKey),
	}
}

func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// Derive validates ids and derives the address for role. Ids must lie in
// 1..MaxUint32.
func (d *Deriver) Derive(role Role, ids ...int64) (solana.PublicKey, error) {
	if role > RoleTicket {
		return solana.PublicKey{}, &program.ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %d", role)}
	}
	if len(ids) != role.arity() {
		return solana.PublicKey{}, &program.ValidationError{
			Field:  role.String() + " ids",
			Reason: fmt.Sprintf("expected %d ids, got %d", role.arity(), len(ids)),
		}
	}
	checked := make([]uint32, len(ids))
	for i, id := range ids {
		v, err := checkID(id)
		if err != nil {
			return solana.PublicKey{}, err
		}
		checked[i] = v
	}

	switch role {
	case RoleRound:
		return d.Round(checked[0])
	case RoleTicket:
		return d.Ticket(checked[0], checked[1])
	default:
		return d.Master()
	}
}

func (d *Deriver) Master() (solana.PublicKey, error) {
	return d.find(cacheKey{role: RoleMaster}, [][]byte{[]byte(program.MasterSeed)})
}

func (d *Deriver) Round(roundID uint32) (solana.PublicKey, error) {
	if roundID == 0 {
		return solana.PublicKey{}, &program.ValidationError{Field: "round id", Reason: "must be at least 1"}
	}
	return d.find(cacheKey{role: RoleRound, roundID: roundID}, [][]byte{
		[]byte(program.RoundSeed),
		program.LE32(roundID),
	})
}

func (d *Deriver) Ticket(roundID, ticketID uint32) (solana.PublicKey, error) {
	if ticketID == 0 {
		return solana.PublicKey{}, &program.ValidationError{Field: "ticket id", Reason: "must be at least 1"}
	}
	round, err := d.Round(roundID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return d.find(cacheKey{role: RoleTicket, roundID: roundID, ticketID: ticketID}, [][]byte{
		[]byte(program.TicketSeed),
		round[:],
		program.LE32(ticketID),
	})
}

func (d *Deriver) find(key cacheKey, seeds [][]byte) (solana.PublicKey, error) {
	d.mu.RLock()
	addr, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, _, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive %s address: %w", key.role, err)
	}

	d.mu.Lock()
	d.cache[key] = addr
	d.mu.Unlock()
	return addr, nil
}

func checkID(id int64) (uint32, error) {
	if id < 1 || id > math.MaxUint32 {
		return 0, &program.ValidationError{Field: "id", Reason: fmt.Sprintf("%d outside 1..%d", id, uint32(math.MaxUint32))}
	}
	return uint32(id), nil
}
