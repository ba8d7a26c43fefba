package store

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/eigerco/lottery/internal/history"
	"github.com/eigerco/lottery/internal/program"
	"github.com/eigerco/lottery/internal/roster"
	"github.com/eigerco/lottery/pkg/db"
	"github.com/eigerco/lottery/pkg/db/pebble"
)

var ErrSnapshotsClosed = errors.New("snapshot store is closed")

// Snapshots persists settled round snapshots keyed by round id.
type Snapshots struct {
	db     db.KVStore
	closed atomic.Bool
}

func NewSnapshots(db db.KVStore) *Snapshots {
	return &Snapshots{db: db}
}

func (s *Snapshots) GetSnapshot(roundID uint32) (history.Snapshot, bool, error) {
	if s.closed.Load() {
		return history.Snapshot{}, false, ErrSnapshotsClosed
	}
	raw, err := s.db.Get(makeKey(prefixSnapshot, roundID))
	if errors.Is(err, pebble.ErrNotFound) {
		return history.Snapshot{}, false, nil
	}
	if err != nil {
		return history.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return history.Snapshot{}, false, fmt.Errorf("decode snapshot %d: %w", roundID, err)
	}
	return snap, true, nil
}

func (s *Snapshots) PutSnapshot(snap history.Snapshot) error {
	if s.closed.Load() {
		return ErrSnapshotsClosed
	}
	raw, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.db.Put(makeKey(prefixSnapshot, snap.RoundID), raw); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Latest returns up to limit cached snapshots, highest round id first.
func (s *Snapshots) Latest(limit int) ([]history.Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrSnapshotsClosed
	}
	iter, err := s.db.NewReverseIterator([]byte{prefixSnapshot}, []byte{prefixSnapshot + 1})
	if err != nil {
		return nil, fmt.Errorf("create iterator: %w", err)
	}
	defer iter.Close()

	var out []history.Snapshot
	for len(out) < limit && iter.Next() {
		raw, err := iter.Value()
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// BindProgram ties the cache to programID. If it was last used for another
// program every snapshot is dropped in one batch. It returns how many were
// dropped.
func (s *Snapshots) BindProgram(programID solana.PublicKey) (int, error) {
	if s.closed.Load() {
		return 0, ErrSnapshotsClosed
	}
	bound, err := s.db.Get(keyProgramID)
	switch {
	case err == nil && bytes.Equal(bound, programID[:]):
		return 0, nil
	case err != nil && !errors.Is(err, pebble.ErrNotFound):
		return 0, fmt.Errorf("get program id: %w", err)
	}

	iter, err := s.db.NewIterator([]byte{prefixSnapshot}, []byte{prefixSnapshot + 1})
	if err != nil {
		return 0, fmt.Errorf("create iterator: %w", err)
	}
	var keys [][]byte
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("close iterator: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(k); err != nil {
			return 0, fmt.Errorf("delete snapshot: %w", err)
		}
	}
	if err := batch.Put(keyProgramID, programID.Bytes()); err != nil {
		return 0, fmt.Errorf("put program id: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(keys), nil
}

// Close closes the snapshot store
func (s *Snapshots) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// Layout: u32 round | u32 winner | [32] winner address | u64 prize |
// u32 count | count * ([32] address | u32 ticket id).
func encodeSnapshot(s history.Snapshot) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint32(s.RoundID, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(s.WinnerID, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBytes(s.WinnerAddress[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(s.Prize, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(uint32(len(s.Participants.Participants)), bin.LE); err != nil {
		return nil, err
	}
	for _, p := range s.Participants.Participants {
		if err := enc.WriteBytes(p.Address[:], false); err != nil {
			return nil, err
		}
		if err := enc.WriteUint32(p.TicketID, bin.LE); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeSnapshot(raw []byte) (history.Snapshot, error) {
	dec := bin.NewBorshDecoder(raw)
	var (
		s   history.Snapshot
		err error
	)
	if s.RoundID, err = dec.ReadUint32(bin.LE); err != nil {
		return s, err
	}
	if s.WinnerID, err = dec.ReadUint32(bin.LE); err != nil {
		return s, err
	}
	if s.WinnerAddress, err = readKey(dec); err != nil {
		return s, err
	}
	if s.Prize, err = dec.ReadUint64(bin.LE); err != nil {
		return s, err
	}
	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return s, err
	}
	// Each entry takes 36 bytes; reject counts the buffer cannot hold.
	if int(count)*36 > dec.Remaining() {
		return s, fmt.Errorf("participant count %d exceeds %d remaining bytes", count, dec.Remaining())
	}
	s.Participants = roster.Empty(s.RoundID)
	for i := uint32(0); i < count; i++ {
		addr, err := readKey(dec)
		if err != nil {
			return s, err
		}
		ticketID, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return s, err
		}
		s.Participants.Participants = append(s.Participants.Participants, roster.Participant{Address: addr, TicketID: ticketID})
	}
	s.Participants.Count = len(s.Participants.Participants)
	s.PrizeSOL = program.FormatSOL(s.Prize)
	return s, nil
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}
