package store

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/roster"
	"github.com/eigerco/lottery/pkg/db/pebble"
)

func newStore(t *testing.T) *Snapshots {
	kv, err := pebble.NewMemKVStore()
	require.NoError(t, err)
	s := NewSnapshots(kv)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshot(id uint32, buyers ...solana.PublicKey) history.Snapshot {
	tickets := make([]program.Ticket, len(buyers))
	for i, b := range buyers {
		tickets[i] = program.Ticket{ID: uint32(i + 1), RoundID: id, Authority: b}
	}
	prize := uint64(len(buyers)) * program.LamportsPerSOL
	return history.Snapshot{
		RoundID:       id,
		WinnerID:      1,
		WinnerAddress: buyers[0],
		Prize:         prize,
		PrizeSOL:      program.FormatSOL(prize),
		Participants:  roster.Lookup(roster.Aggregate(tickets), id),
	}
}

func Test_PutGetSnapshot(t *testing.T) {
	s := newStore(t)
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()
	want := snapshot(3, alice, bob, alice)

	require.NoError(t, s.PutSnapshot(want))

	got, ok, err := s.GetSnapshot(3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = s.GetSnapshot(4)
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_LatestReturnsHighestFirst(t *testing.T) {
	s := newStore(t)
	alice := solana.NewWallet().PublicKey()
	for _, id := range []uint32{2, 300, 7, 256} {
		require.NoError(t, s.PutSnapshot(snapshot(id, alice)))
	}

	got, err := s.Latest(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(300), got[0].RoundID)
	assert.Equal(t, uint32(256), got[1].RoundID)
	assert.Equal(t, uint32(7), got[2].RoundID)
}

func Test_DecodeRejectsTruncated(t *testing.T) {
	raw, err := encodeSnapshot(snapshot(1, solana.NewWallet().PublicKey()))
	require.NoError(t, err)
	_, err = decodeSnapshot(raw[:len(raw)-4])
	assert.Error(t, err)
}

func Test_SnapshotsClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err := s.GetSnapshot(1)
	assert.ErrorIs(t, err, ErrSnapshotsClosed)
	assert.ErrorIs(t, s.PutSnapshot(snapshot(1, solana.NewWallet().PublicKey())), ErrSnapshotsClosed)
	_, err = s.Latest(1)
	assert.ErrorIs(t, err, ErrSnapshotsClosed)
}

func Test_BindProgramDropsForeignSnapshots(t *testing.T) {
	s := newStore(t)
	alice := solana.NewWallet().PublicKey()
	first := solana.NewWallet().PublicKey()
	second := solana.NewWallet().PublicKey()

	dropped, err := s.BindProgram(first)
	require.NoError(t, err)
	assert.Zero(t, dropped)

	require.NoError(t, s.PutSnapshot(snapshot(1, alice)))
	require.NoError(t, s.PutSnapshot(snapshot(2, alice)))

	dropped, err = s.BindProgram(first)
	require.NoError(t, err)
	assert.Zero(t, dropped)

	dropped, err = s.BindProgram(second)
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	got, err := s.Latest(10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
