package program

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/safemath"
)

// Master is the program singleton counting the rounds created so far.
type Master struct {
	LastRoundID uint32
}

// Round is one lottery instance.
type Round struct {
	ID           uint32
	Authority    solana.PublicKey
	TicketPrice  uint64
	LastTicketID uint32
	// WinnerTicketID is nil until a winner is picked.
	WinnerTicketID *uint32
	Claimed        bool
}

func (r Round) HasWinner() bool {
	return r.WinnerTicketID != nil
}

// Winner returns the winning ticket id, or 0 when none was picked.
func (r Round) Winner() uint32 {
	if r.WinnerTicketID == nil {
		return 0
	}
	return *r.WinnerTicketID
}

// Pot is the total prize in lamports: ticket price times tickets sold.
func (r Round) Pot() (uint64, error) {
	pot, ok := safemath.Mul64(r.TicketPrice, uint64(r.LastTicketID))
	if !ok {
		return 0, Inconsistent("round %d pot overflows: %d * %d", r.ID, r.TicketPrice, r.LastTicketID)
	}
	return pot, nil
}

// Validate checks the invariants the program guarantees for a round.
func (r Round) Validate() error {
	if r.WinnerTicketID != nil {
		w := *r.WinnerTicketID
		if w < 1 || w > r.LastTicketID {
			return Inconsistent("round %d winner ticket %d outside 1..%d", r.ID, w, r.LastTicketID)
		}
	} else if r.Claimed {
		return Inconsistent("round %d claimed without a winner", r.ID)
	}
	return nil
}

// Ticket is a single purchased entry of a round.
type Ticket struct {
	ID        uint32
	RoundID   uint32
	Authority solana.PublicKey
	Address   solana.PublicKey
}

func DecodeMaster(data []byte) (Master, error) {
	dec, err := newAccountDecoder(data, MasterDiscriminator, masterAccountName)
	if err != nil {
		return Master{}, err
	}
	lastID, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return Master{}, layoutErr(masterAccountName, err)
	}
	return Master{LastRoundID: lastID}, nil
}

func DecodeRound(data []byte) (Round, error) {
	dec, err := newAccountDecoder(data, RoundDiscriminator, roundAccountName)
	if err != nil {
		return Round{}, err
	}

	var r Round
	if r.ID, err = dec.ReadUint32(bin.LE); err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	if r.Authority, err = readPublicKey(dec); err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	if r.TicketPrice, err = dec.ReadUint64(bin.LE); err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	if r.LastTicketID, err = dec.ReadUint32(bin.LE); err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	hasWinner, err := dec.ReadOption()
	if err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	if hasWinner {
		winner, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return Round{}, layoutErr(roundAccountName, err)
		}
		r.WinnerTicketID = &winner
	}
	if r.Claimed, err = dec.ReadBool(); err != nil {
		return Round{}, layoutErr(roundAccountName, err)
	}
	return r, nil
}

func DecodeTicket(address solana.PublicKey, data []byte) (Ticket, error) {
	dec, err := newAccountDecoder(data, TicketDiscriminator, ticketAccountName)
	if err != nil {
		return Ticket{}, err
	}

	t := Ticket{Address: address}
	if t.ID, err = dec.ReadUint32(bin.LE); err != nil {
		return Ticket{}, layoutErr(ticketAccountName, err)
	}
	if t.RoundID, err = dec.ReadUint32(bin.LE); err != nil {
		return Ticket{}, layoutErr(ticketAccountName, err)
	}
	if t.Authority, err = readPublicKey(dec); err != nil {
		return Ticket{}, layoutErr(ticketAccountName, err)
	}
	return t, nil
}

// EncodeMaster, EncodeRound and EncodeTicket produce account data in the
// program layout. They back test fixtures and local simulation.
func EncodeMaster(m Master) ([]byte, error) {
	return encodeAccount(MasterDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint32(m.LastRoundID, bin.LE)
	})
}

func EncodeRound(r Round) ([]byte, error) {
	return encodeAccount(RoundDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint32(r.ID, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteBytes(r.Authority[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint64(r.TicketPrice, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteUint32(r.LastTicketID, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteOption(r.WinnerTicketID != nil); err != nil {
			return err
		}
		if r.WinnerTicketID != nil {
			if err := enc.WriteUint32(*r.WinnerTicketID, bin.LE); err != nil {
				return err
			}
		}
		return enc.WriteBool(r.Claimed)
	})
}

func EncodeTicket(t Ticket) ([]byte, error) {
	return encodeAccount(TicketDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint32(t.ID, bin.LE); err != nil {
			return err
		}
		if err := enc.WriteUint32(t.RoundID, bin.LE); err != nil {
			return err
		}
		return enc.WriteBytes(t.Authority[:], false)
	})
}

func encodeAccount(d Discriminator, body func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(d[:], false); err != nil {
		return nil, err
	}
	if err := body(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newAccountDecoder(data []byte, want Discriminator, name string) (*bin.Decoder, error) {
	if len(data) < DiscriminatorSize {
		return nil, Inconsistent("%s account data too short: %d bytes", name, len(data))
	}
	if !bytes.Equal(data[:DiscriminatorSize], want[:]) {
		return nil, Inconsistent("%s account discriminator mismatch", name)
	}
	return bin.NewBorshDecoder(data[DiscriminatorSize:]), nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}

func layoutErr(name string, err error) error {
	return &InconsistencyError{Reason: fmt.Sprintf("decode %s account", name), Err: err}
}
