// Package chaintest provides an in-memory ledger holding lottery accounts
// in their on-chain layout.
package chaintest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/lottery/internal/address"
	"github.com/eigerco/lottery/internal/program"
)

type account struct {
	owner solana.PublicKey
	data  []byte
}

// Ledger implements chain.Ledger over a map of accounts.
type Ledger struct {
	t         testing.TB
	addresses *address.Deriver

	mu       sync.RWMutex
	accounts map[solana.PublicKey]account
	failWith error
	gets     int
	lists    int
}

func NewLedger(t testing.TB, addresses *address.Deriver) *Ledger {
	return &Ledger{
		t:         t,
		addresses: addresses,
		accounts:  make(map[solana.PublicKey]account),
	}
}

// Fail makes every subsequent call return err. Pass nil to recover.
func (l *Ledger) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failWith = err
}

// Calls returns how many single-account and list requests were served.
func (l *Ledger) Calls() (gets, lists int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gets, l.lists
}

func (l *Ledger) PutMaster(lastRoundID uint32) {
	addr, err := l.addresses.Master()
	require.NoError(l.t, err)
	data, err := program.EncodeMaster(program.Master{LastRoundID: lastRoundID})
	require.NoError(l.t, err)
	l.put(addr, data)
}

func (l *Ledger) PutRound(r program.Round) solana.PublicKey {
	addr, err := l.addresses.Round(r.ID)
	require.NoError(l.t, err)
	data, err := program.EncodeRound(r)
	require.NoError(l.t, err)
	l.put(addr, data)
	return addr
}

func (l *Ledger) PutTicket(roundID, ticketID uint32, buyer solana.PublicKey) program.Ticket {
	addr, err := l.addresses.Ticket(roundID, ticketID)
	require.NoError(l.t, err)
	t := program.Ticket{ID: ticketID, RoundID: roundID, Authority: buyer, Address: addr}
	data, err := program.EncodeTicket(t)
	require.NoError(l.t, err)
	l.put(addr, data)
	return t
}

// PutRaw stores arbitrary data under addr, owned by owner.
func (l *Ledger) PutRaw(addr, owner solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = account{owner: owner, data: data}
}

func (l *Ledger) put(addr solana.PublicKey, data []byte) {
	l.PutRaw(addr, l.addresses.ProgramID(), data)
}

func (l *Ledger) GetAccountInfoWithOpts(_ context.Context, addr solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gets++
	if l.failWith != nil {
		return nil, l.failWith
	}
	acc, ok := l.accounts[addr]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: acc.owner,
			Data:  rpc.DataBytesOrJSONFromBytes(acc.data),
		},
	}, nil
}

func (l *Ledger) GetProgramAccountsWithOpts(_ context.Context, programID solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists++
	if l.failWith != nil {
		return nil, l.failWith
	}

	var out rpc.GetProgramAccountsResult
	for addr, acc := range l.accounts {
		if !acc.owner.Equals(programID) || !matches(acc.data, opts) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{
			Pubkey: addr,
			Account: &rpc.Account{
				Owner: acc.owner,
				Data:  rpc.DataBytesOrJSONFromBytes(acc.data),
			},
		})
	}
	// Ticket address order is arbitrary but stable, like a real node.
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Pubkey[:], out[j].Pubkey[:]) < 0
	})
	return out, nil
}

func matches(data []byte, opts *rpc.GetProgramAccountsOpts) bool {
	if opts == nil {
		return true
	}
	for _, f := range opts.Filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if f.Memcmp != nil {
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
		}
	}
	return true
}
