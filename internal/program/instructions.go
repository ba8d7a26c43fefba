package program

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	initMasterDiscriminator    = instructionDiscriminator("init_master")
	createLotteryDiscriminator = instructionDiscriminator("create_lottery")
	buyTicketDiscriminator     = instructionDiscriminator("buy_ticket")
	pickWinnerDiscriminator    = instructionDiscriminator("pick_winner")
	claimPrizeDiscriminator    = instructionDiscriminator("claim_prize")
)

// Instructions builds the program instructions behind each user action.
// Signing and submission happen elsewhere.
type Instructions struct {
	ProgramID solana.PublicKey
}

func (in Instructions) InitMaster(master, payer solana.PublicKey) (solana.Instruction, error) {
	return in.build(initMasterDiscriminator, nil, solana.AccountMetaSlice{
		solana.Meta(master).WRITE(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	})
}

func (in Instructions) CreateLottery(round, master, authority solana.PublicKey, ticketPrice uint64) (solana.Instruction, error) {
	return in.build(createLotteryDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint64(ticketPrice, bin.LE)
	}, solana.AccountMetaSlice{
		solana.Meta(round).WRITE(),
		solana.Meta(master).WRITE(),
		solana.Meta(authority).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	})
}

func (in Instructions) BuyTicket(round, ticket, buyer solana.PublicKey, roundID uint32) (solana.Instruction, error) {
	return in.build(buyTicketDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint32(roundID, bin.LE)
	}, solana.AccountMetaSlice{
		solana.Meta(round).WRITE(),
		solana.Meta(ticket).WRITE(),
		solana.Meta(buyer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	})
}

func (in Instructions) PickWinner(round, authority solana.PublicKey, roundID uint32) (solana.Instruction, error) {
	return in.build(pickWinnerDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint32(roundID, bin.LE)
	}, solana.AccountMetaSlice{
		solana.Meta(round).WRITE(),
		solana.Meta(authority).SIGNER(),
		solana.Meta(solana.SystemProgramID),
	})
}

func (in Instructions) ClaimPrize(round, ticket, authority solana.PublicKey, roundID, ticketID uint32) (solana.Instruction, error) {
	return in.build(claimPrizeDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint32(roundID, bin.LE); err != nil {
			return err
		}
		return enc.WriteUint32(ticketID, bin.LE)
	}, solana.AccountMetaSlice{
		solana.Meta(round).WRITE(),
		solana.Meta(ticket),
		solana.Meta(authority).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	})
}

func (in Instructions) build(d Discriminator, args func(enc *bin.Encoder) error, accounts solana.AccountMetaSlice) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	if args != nil {
		if err := args(bin.NewBorshEncoder(buf)); err != nil {
			return nil, err
		}
	}
	return solana.NewInstruction(in.ProgramID, accounts, buf.Bytes()), nil
}
