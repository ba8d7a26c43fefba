package program

import (
	"crypto/sha256"
	"encoding/binary"
)

// Seeds used by the program to derive its accounts.
const (
	MasterSeed = "master"
	RoundSeed  = "lottery"
	TicketSeed = "ticket"
)

// Account names as declared by the program. They feed the 8 byte
// discriminator that prefixes every account.
const (
	masterAccountName = "Master"
	roundAccountName  = "Lottery"
	ticketAccountName = "Ticket"
)

const DiscriminatorSize = 8

// Ticket account layout: discriminator | u32 id | u32 lottery_id | authority.
const (
	TicketRoundIDOffset = DiscriminatorSize + 4
	TicketBuyerOffset   = TicketRoundIDOffset + 4
	TicketAccountSize   = TicketBuyerOffset + 32
)

type Discriminator [DiscriminatorSize]byte

var (
	MasterDiscriminator = accountDiscriminator(masterAccountName)
	RoundDiscriminator  = accountDiscriminator(roundAccountName)
	TicketDiscriminator = accountDiscriminator(ticketAccountName)
)

func accountDiscriminator(name string) Discriminator {
	return sighash("account", name)
}

func instructionDiscriminator(name string) Discriminator {
	return sighash("global", name)
}

func sighash(namespace, name string) Discriminator {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// LE32 encodes v as the four little-endian bytes used both in account seeds
// and at the ticket filter offsets.
func LE32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
