package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/eigerco/lottery/internal/address"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/pkg/log"
)

// Ledger is the subset of the JSON-RPC client the reader needs.
// *rpc.Client satisfies it.
type Ledger interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// TicketFilter narrows FetchTickets. Nil fields match everything.
type TicketFilter struct {
	RoundID *uint32
	Buyer   *solana.PublicKey
}

// Reader fetches and decodes lottery accounts. It performs no retries;
// every failure is returned classified as not-found, transport or
// inconsistency.
type Reader struct {
	ledger     Ledger
	addresses  *address.Deriver
	commitment rpc.CommitmentType
}

func NewReader(ledger Ledger, addresses *address.Deriver, commitment rpc.CommitmentType) *Reader {
	return &Reader{
		ledger:     ledger,
		addresses:  addresses,
		commitment: commitment,
	}
}

func (r *Reader) Addresses() *address.Deriver {
	return r.addresses
}

func (r *Reader) FetchMaster(ctx context.Context) (program.Master, error) {
	addr, err := r.addresses.Master()
	if err != nil {
		return program.Master{}, err
	}
	data, err := r.account(ctx, "master", addr)
	if err != nil {
		return program.Master{}, err
	}
	return program.DecodeMaster(data)
}

func (r *Reader) FetchRound(ctx context.Context, addr solana.PublicKey) (program.Round, error) {
	data, err := r.account(ctx, "round", addr)
	if err != nil {
		return program.Round{}, err
	}
	return program.DecodeRound(data)
}

// FetchRoundByID derives the round address and fetches it. The decoded id
// must match the requested one.
func (r *Reader) FetchRoundByID(ctx context.Context, roundID uint32) (program.Round, error) {
	addr, err := r.addresses.Round(roundID)
	if err != nil {
		return program.Round{}, err
	}
	round, err := r.FetchRound(ctx, addr)
	if err != nil {
		return program.Round{}, err
	}
	if round.ID != roundID {
		return program.Round{}, program.Inconsistent("round account %s holds id %d, want %d", addr, round.ID, roundID)
	}
	return round, nil
}

func (r *Reader) FetchTicket(ctx context.Context, addr solana.PublicKey) (program.Ticket, error) {
	data, err := r.account(ctx, "ticket", addr)
	if err != nil {
		return program.Ticket{}, err
	}
	return program.DecodeTicket(addr, data)
}

func (r *Reader) FetchTicketByID(ctx context.Context, roundID, ticketID uint32) (program.Ticket, error) {
	addr, err := r.addresses.Ticket(roundID, ticketID)
	if err != nil {
		return program.Ticket{}, err
	}
	return r.FetchTicket(ctx, addr)
}

// FetchTickets lists ticket accounts. Round and buyer predicates are pushed
// down to the node as memcmp filters at their fixed layout offsets.
func (r *Reader) FetchTickets(ctx context.Context, filter TicketFilter) ([]program.Ticket, error) {
	filters := []rpc.RPCFilter{
		{DataSize: program.TicketAccountSize},
		{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(program.TicketDiscriminator[:])}},
	}
	if filter.RoundID != nil {
		filters = append(filters, rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{
			Offset: program.TicketRoundIDOffset,
			Bytes:  solana.Base58(program.LE32(*filter.RoundID)),
		}})
	}
	if filter.Buyer != nil {
		filters = append(filters, rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{
			Offset: program.TicketBuyerOffset,
			Bytes:  solana.Base58(filter.Buyer.Bytes()),
		}})
	}

	accounts, err := r.ledger.GetProgramAccountsWithOpts(ctx, r.addresses.ProgramID(), &rpc.GetProgramAccountsOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, &program.TransportError{Op: "list ticket accounts", Err: err}
	}

	tickets := make([]program.Ticket, 0, len(accounts))
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil {
			continue
		}
		t, err := program.DecodeTicket(acc.Pubkey, acc.Account.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("ticket %s: %w", acc.Pubkey, err)
		}
		tickets = append(tickets, t)
	}
	// Nodes return accounts in no particular order.
	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].RoundID != tickets[j].RoundID {
			return tickets[i].RoundID < tickets[j].RoundID
		}
		return tickets[i].ID < tickets[j].ID
	})
	log.Chain.Debug().Int("count", len(tickets)).Msg("fetched tickets")
	return tickets, nil
}

func (r *Reader) account(ctx context.Context, kind string, addr solana.PublicKey) ([]byte, error) {
	out, err := r.ledger.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, &program.NotFoundError{Kind: kind, Address: addr}
	}
	if err != nil {
		return nil, &program.TransportError{Op: "get " + kind + " account", Err: err}
	}
	if out == nil || out.Value == nil {
		return nil, &program.NotFoundError{Kind: kind, Address: addr}
	}
	if !out.Value.Owner.Equals(r.addresses.ProgramID()) {
		return nil, program.Inconsistent("%s account %s owned by %s", kind, addr, out.Value.Owner)
	}
	log.Chain.Debug().Str("kind", kind).Stringer("address", addr).Msg("fetched account")
	return out.Value.Data.GetBinary(), nil
}
