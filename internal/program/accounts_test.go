package program

import (
	"crypto/sha256"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32(v uint32) *uint32 { return &v }

func TestDecodeRound(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	want := Round{
		ID:             3,
		Authority:      authority,
		TicketPrice:    LamportsPerSOL,
		LastTicketID:   12,
		WinnerTicketID: u32(7),
	}
	data, err := EncodeRound(want)
	require.NoError(t, err)
	// discriminator + id + authority + price + last ticket + option tag + winner + claimed
	assert.Len(t, data, 8+4+32+8+4+1+4+1)

	got, err := DecodeRound(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("no winner", func(t *testing.T) {
		open := Round{ID: 4, Authority: authority, TicketPrice: 5, LastTicketID: 0}
		data, err := EncodeRound(open)
		require.NoError(t, err)
		got, err := DecodeRound(data)
		require.NoError(t, err)
		assert.False(t, got.HasWinner())
		assert.Equal(t, uint32(0), got.Winner())
	})
}

func TestDecodeTicketOffsets(t *testing.T) {
	buyer := solana.NewWallet().PublicKey()
	addr := solana.NewWallet().PublicKey()
	data, err := EncodeTicket(Ticket{ID: 9, RoundID: 0x01020304, Authority: buyer})
	require.NoError(t, err)
	require.Len(t, data, TicketAccountSize)

	// Filters rely on these fixed offsets.
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, data[TicketRoundIDOffset:TicketRoundIDOffset+4])
	assert.Equal(t, LE32(0x01020304), data[TicketRoundIDOffset:TicketRoundIDOffset+4])
	assert.Equal(t, buyer[:], data[TicketBuyerOffset:TicketBuyerOffset+32])

	got, err := DecodeTicket(addr, data)
	require.NoError(t, err)
	assert.Equal(t, Ticket{ID: 9, RoundID: 0x01020304, Authority: buyer, Address: addr}, got)
}

func TestDecodeRejectsForeignAccounts(t *testing.T) {
	masterData, err := EncodeMaster(Master{LastRoundID: 2})
	require.NoError(t, err)

	m, err := DecodeMaster(masterData)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m.LastRoundID)

	_, err = DecodeRound(masterData)
	assert.True(t, IsInconsistent(err))

	_, err = DecodeMaster([]byte{1, 2, 3})
	assert.True(t, IsInconsistent(err))

	_, err = DecodeRound(RoundDiscriminator[:])
	assert.True(t, IsInconsistent(err), "truncated body must be reported")
}

func TestDiscriminators(t *testing.T) {
	sum := sha256.Sum256([]byte("account:Lottery"))
	assert.Equal(t, sum[:8], RoundDiscriminator[:])
	assert.NotEqual(t, MasterDiscriminator, TicketDiscriminator)
}

func TestRoundPotAndValidate(t *testing.T) {
	r := Round{ID: 1, TicketPrice: LamportsPerSOL, LastTicketID: 12}
	pot, err := r.Pot()
	require.NoError(t, err)
	assert.Equal(t, 12*LamportsPerSOL, pot)

	huge := Round{ID: 2, TicketPrice: ^uint64(0), LastTicketID: 2}
	_, err = huge.Pot()
	assert.True(t, IsInconsistent(err))

	tests := []struct {
		name  string
		round Round
		ok    bool
	}{
		{"open round", Round{LastTicketID: 3}, true},
		{"winner in range", Round{LastTicketID: 3, WinnerTicketID: u32(3)}, true},
		{"claimed winner", Round{LastTicketID: 3, WinnerTicketID: u32(1), Claimed: true}, true},
		{"winner zero", Round{LastTicketID: 3, WinnerTicketID: u32(0)}, false},
		{"winner past last ticket", Round{LastTicketID: 3, WinnerTicketID: u32(4)}, false},
		{"claimed without winner", Round{LastTicketID: 3, Claimed: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.round.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, IsInconsistent(err))
			}
		})
	}
}

func TestFormatSOL(t *testing.T) {
	assert.Equal(t, "0", FormatSOL(0))
	assert.Equal(t, "12", FormatSOL(12*LamportsPerSOL))
	assert.Equal(t, "1.5", FormatSOL(1_500_000_000))
	assert.Equal(t, "0.000000001", FormatSOL(1))
}
