package wr

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cznic/sortutil"
)

const flHeaderSize = 16

// flHighBit marks a gap slot's first 8 bytes as 0x80|nextIndex.
const flHighBit = uint64(1) << 63

// FLSpace manages the free-list of fixed-size row slots inside an FL
// file: a 16-byte header (gaps count, root index) followed by a
// contiguous array of slotLen-byte slots. The free-list is a singly
// linked chain through the first 8 bytes of each gap slot.
type FLSpace struct {
	f       Filer
	fileID  int
	slotLen int64
	gaps    uint64
	root    uint64
}

// OpenFLSpace reads (or, if the file is empty, initialises) the header of
// an FL file of the given slot width.
func OpenFLSpace(f Filer, fileID int, slotLen int64) (*FLSpace, error) {
	if slotLen <= 0 {
		return nil, &ErrIllegalArgument{Msg: "non-positive FL slot length", Arg: slotLen}
	}
	sz, err := f.Size()
	if err != nil {
		return nil, err
	}
	s := &FLSpace{f: f, fileID: fileID, slotLen: slotLen}
	if sz < flHeaderSize {
		if err := f.Truncate(flHeaderSize); err != nil {
			return nil, err
		}
		s.gaps, s.root = 0, 0
		return s, s.writeHeader(nil)
	}
	return s, s.readHeader()
}

func (s *FLSpace) readHeader() error {
	var buf [flHeaderSize]byte
	if _, err := s.f.ReadAt(buf[:], 0); err != nil {
		return &ErrIO{Op: "read FL header", Name: s.f.Name(), Err: err}
	}
	s.gaps = binary.BigEndian.Uint64(buf[0:8])
	s.root = binary.BigEndian.Uint64(buf[8:16])
	return nil
}

func (s *FLSpace) writeHeader(u *Unit) error {
	var old [flHeaderSize]byte
	if u != nil {
		if _, err := s.f.ReadAt(old[:], 0); err != nil {
			return &ErrIO{Op: "read FL header", Name: s.f.Name(), Err: err}
		}
		if err := u.record(s.fileID, 0, old[:]); err != nil {
			return err
		}
	}
	var buf [flHeaderSize]byte
	binary.BigEndian.PutUint64(buf[0:8], s.gaps)
	binary.BigEndian.PutUint64(buf[8:16], s.root)
	if _, err := s.f.WriteAt(buf[:], 0); err != nil {
		return &ErrIO{Op: "write FL header", Name: s.f.Name(), Err: err}
	}
	return nil
}

// posOf returns the byte offset of slot index idx (0-based).
func (s *FLSpace) posOf(idx uint64) int64 {
	return flHeaderSize + int64(idx)*s.slotLen
}

// totalSlots returns the current number of slots in the file.
func (s *FLSpace) totalSlots() (uint64, error) {
	sz, err := s.f.Size()
	if err != nil {
		return 0, err
	}
	return uint64((sz - flHeaderSize) / s.slotLen), nil
}

// Gaps returns the number of free slots.
func (s *FLSpace) Gaps() uint64 { return s.gaps }

// Allocate reserves a slot, reusing the head of the gap chain if one
// exists, otherwise growing the file by one slot. It returns the 0-based
// slot index; the caller is responsible for writing the slot's actual
// content and recording its own before-image for that write.
func (s *FLSpace) Allocate(u *Unit) (uint64, error) {
	total, err := s.totalSlots()
	if err != nil {
		return 0, err
	}
	if s.root < total {
		idx := s.root
		var buf [8]byte
		if _, err := s.f.ReadAt(buf[:], s.posOf(idx)); err != nil {
			return 0, &ErrIO{Op: "read FL gap", Name: s.f.Name(), Err: err}
		}
		next := binary.BigEndian.Uint64(buf[:]) &^ flHighBit
		s.root = next
		s.gaps--
		if err := s.writeHeader(u); err != nil {
			return 0, err
		}
		return idx, nil
	}

	newSize := flHeaderSize + (int64(total)+1)*s.slotLen
	if newSize < 0 || (int64(total)+1) > math.MaxInt64/s.slotLen {
		return 0, &ErrMaxExceeded{Msg: "FL file size would overflow a signed 64-bit length"}
	}
	curSize, err := s.f.Size()
	if err != nil {
		return 0, err
	}
	if err := u.recordGrow(s.fileID, curSize); err != nil {
		return 0, err
	}
	if err := s.f.Truncate(newSize); err != nil {
		return 0, &ErrIO{Op: "grow FL file", Name: s.f.Name(), Err: err}
	}
	s.root = total + 1
	if err := s.writeHeader(u); err != nil {
		return 0, err
	}
	return total, nil
}

// Deallocate returns slot idx to the free-list. The caller must already
// have recorded the slot's full before-image before calling this, since
// Deallocate only overwrites the slot's first 8 bytes with the new
// gap-chain link.
func (s *FLSpace) Deallocate(u *Unit, idx uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], flHighBit|s.root)
	if _, err := s.f.WriteAt(buf[:], s.posOf(idx)); err != nil {
		return &ErrIO{Op: "write FL gap", Name: s.f.Name(), Err: err}
	}
	s.root = idx
	s.gaps++
	return s.writeHeader(u)
}

// GapIndices returns every free slot index, sorted ascending.
func (s *FLSpace) GapIndices() ([]uint64, error) {
	if s.gaps > math.MaxInt32 {
		return nil, &ErrImplRestriction{Msg: "gap count exceeds a signed 32-bit count"}
	}
	total, err := s.totalSlots()
	if err != nil {
		return nil, err
	}
	asc := make(sortutil.Int64Slice, 0, s.gaps)
	idx := s.root
	for idx < total {
		asc = append(asc, int64(idx))
		var buf [8]byte
		if _, err := s.f.ReadAt(buf[:], s.posOf(idx)); err != nil {
			return nil, &ErrIO{Op: "read FL gap", Name: s.f.Name(), Err: err}
		}
		idx = binary.BigEndian.Uint64(buf[:]) &^ flHighBit
	}
	sort.Sort(asc)
	out := make([]uint64, len(asc))
	for i, v := range asc {
		out[i] = uint64(v)
	}
	return out, nil
}

// RebuildChainOfGaps scans the FL file slot by slot and relinks every
// slot whose gap flag is set into a single chain, then persists the new
// header. It is idempotent and authoritative, used to repair a chain
// left stale by a crash or invalidated by an unlogged relayout.
func (s *FLSpace) RebuildChainOfGaps(u *Unit) error {
	total, err := s.totalSlots()
	if err != nil {
		return err
	}
	var gapIdx []uint64
	buf := make([]byte, 1)
	for i := uint64(0); i < total; i++ {
		if _, err := s.f.ReadAt(buf, s.posOf(i)); err != nil {
			return &ErrIO{Op: "scan FL slot", Name: s.f.Name(), Err: err}
		}
		if isGap(buf[0]) {
			gapIdx = append(gapIdx, i)
		}
	}
	sort.Slice(gapIdx, func(a, b int) bool { return gapIdx[a] < gapIdx[b] })
	for i, idx := range gapIdx {
		next := total
		if i+1 < len(gapIdx) {
			next = gapIdx[i+1]
		}
		var link [8]byte
		binary.BigEndian.PutUint64(link[:], flHighBit|next)
		if _, err := s.f.WriteAt(link[:], s.posOf(idx)); err != nil {
			return &ErrIO{Op: "relink FL gap", Name: s.f.Name(), Err: err}
		}
	}
	s.gaps = uint64(len(gapIdx))
	if len(gapIdx) == 0 {
		s.root = total
	} else {
		s.root = gapIdx[0]
	}
	return s.writeHeader(u)
}

// Reset truncates or extends the file to hold exactly newTotalSlots
// slots and reinitialises the free-space bookkeeping to "no gaps" (used
// after FL compaction and migration).
func (s *FLSpace) Reset(u *Unit, newTotalSlots uint64) error {
	if err := s.f.Truncate(s.posOf(newTotalSlots)); err != nil {
		return &ErrIO{Op: "resize FL file", Name: s.f.Name(), Err: err}
	}
	s.gaps = 0
	s.root = newTotalSlots
	return s.writeHeader(u)
}
