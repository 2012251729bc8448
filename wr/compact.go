package wr

import "sort"

// CompactFL removes every gap from the FL file, shifting live slots left
// to close the holes, then asks every table in the database (this one
// included) to rewrite references that pointed at a shifted row index. It runs in an
// unlogged zone: a crash mid-compaction leaves the database requiring
// external repair.
func (s *Store) CompactFL() error {
	gaps, err := s.fl.GapIndices()
	if err != nil {
		return err
	}
	if len(gaps) == 0 {
		return nil
	}
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}

	buf, release, err := s.buffers.BorrowGB1()
	if err != nil {
		return err
	}
	defer release()

	write := uint64(0)
	gapSet := make(map[uint64]bool, len(gaps))
	for _, g := range gaps {
		gapSet[g] = true
	}
	slotLen := int(s.schema.SlotLen)
	for read := uint64(0); read < total; read++ {
		if gapSet[read] {
			continue
		}
		if read == write {
			write++
			continue
		}
		if _, err := s.flFiler.ReadAt(buf[:slotLen], s.fl.posOf(read)); err != nil {
			return &ErrIO{Op: "compact read", Name: s.flFiler.Name(), Err: err}
		}
		if _, err := s.flFiler.WriteAt(buf[:slotLen], s.fl.posOf(write)); err != nil {
			return &ErrIO{Op: "compact write", Name: s.flFiler.Name(), Err: err}
		}
		write++
	}

	newTotal := total - uint64(len(gaps))
	if err := s.flFiler.Truncate(flHeaderSize + int64(newTotal)*s.schema.SlotLen); err != nil {
		return &ErrIO{Op: "truncate FL", Name: s.flFiler.Name(), Err: err}
	}
	if err := s.fl.Reset(nil, newTotal); err != nil {
		return err
	}

	for _, other := range s.db.Tables {
		if other == nil {
			continue
		}
		if err := other.rewriteReferencesTo(s.self, gaps); err != nil {
			return err
		}
	}
	return nil
}

// adjustRowIndex maps a pre-compaction row index r through the sorted
// ascending gap index list: the result is r minus however many gaps sit
// below it.
func adjustRowIndex(r uint64, gaps []uint64) uint64 {
	i := sort.Search(len(gaps), func(i int) bool { return gaps[i] >= r })
	return r - uint64(i)
}

// rewriteReferencesTo rewrites every RT/array-of-RT column of this table
// that references tableIdx, mapping each stored row index through
// adjustRowIndex. Outrow arrays of references are rewritten in place at
// their existing VL pointer (same length).
func (s *Store) rewriteReferencesTo(tableIdx int, gaps []uint64) error {
	dirty := false
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	slot := make([]byte, s.schema.SlotLen)
	for i := uint64(0); i < total; i++ {
		pos := s.fl.posOf(i)
		if _, err := s.flFiler.ReadAt(slot, pos); err != nil {
			return &ErrIO{Op: "rewrite refs read", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(slot[0]) {
			continue
		}
		cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
		rowDirty := false
		for ci := range s.schema.Cols {
			col := &s.schema.Cols[ci]
			if col.RefdTable != tableIdx {
				continue
			}
			changed, err := s.rewriteColumnRefs(col, cols, gaps)
			if err != nil {
				return err
			}
			rowDirty = rowDirty || changed
		}
		if rowDirty {
			if _, err := s.flFiler.WriteAt(cols, pos+int64(s.schema.NBM+s.schema.NobsRefCount)); err != nil {
				return &ErrIO{Op: "rewrite refs write", Name: s.flFiler.Name(), Err: err}
			}
			dirty = true
		}
	}
	if dirty {
		return s.flFiler.Sync()
	}
	return nil
}

func (s *Store) rewriteColumnRefs(col *WRColInfo, cols []byte, gaps []uint64) (bool, error) {
	field := cols[col.Offset : col.Offset+col.Len]
	changed := false
	switch col.Kind {
	case Ref:
		idx := getUint(field)
		if idx != 0 {
			n := adjustRowIndex(idx, gaps)
			if n != idx {
				if err := putUint(field, n); err != nil {
					return false, err
				}
				changed = true
			}
		}
	case InrowArrayOfRef:
		size := int(getUint(field[:col.SizeLen]))
		off := col.SizeLen
		for i := 0; i < size; i++ {
			e := field[off : off+col.NobsRowRef]
			idx := getUint(e)
			if idx != 0 {
				n := adjustRowIndex(idx, gaps)
				if n != idx {
					if err := putUint(e, n); err != nil {
						return false, err
					}
					changed = true
				}
			}
			off += col.NobsRowRef
		}
	case OutrowArrayOfRef:
		length := int64(getUint(field[:col.LengthLen]))
		ptr := int64(getUint(field[col.LengthLen:]))
		if length == 0 && ptr == 0 {
			return false, nil
		}
		blob := make([]byte, length)
		if _, err := s.vlView.ReadAt(blob, ptr); err != nil {
			return false, &ErrIO{Op: "read VL for ref rewrite", Name: s.vlFiler.Name(), Err: err}
		}
		size := int(getUint(blob[:col.SizeLen]))
		off := col.SizeLen
		blobDirty := false
		for i := 0; i < size; i++ {
			e := blob[off : off+col.NobsRowRef]
			idx := getUint(e)
			if idx != 0 {
				n := adjustRowIndex(idx, gaps)
				if n != idx {
					if err := putUint(e, n); err != nil {
						return false, err
					}
					blobDirty = true
				}
			}
			off += col.NobsRowRef
		}
		if blobDirty {
			if _, err := s.vlView.WriteAt(blob, ptr); err != nil {
				return false, &ErrIO{Op: "write VL for ref rewrite", Name: s.vlFiler.Name(), Err: err}
			}
		}
	}
	return changed, nil
}

// CompactVL shifts every live VL blob left so the payload region becomes
// contiguous from its start, then rewrites every FL outrow pointer by
// the shift each blob experienced. A no-op if nothing has been freed
// since the last compaction.
func (s *Store) CompactVL() error {
	if s.vl.Deallocated() == 0 {
		return nil
	}
	type liveBlob struct {
		oldPtr, length int64
	}
	var blobs []liveBlob
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	slot := make([]byte, s.schema.SlotLen)
	for i := uint64(0); i < total; i++ {
		if _, err := s.flFiler.ReadAt(slot, s.fl.posOf(i)); err != nil {
			return &ErrIO{Op: "VL compact scan", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(slot[0]) {
			continue
		}
		cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
		for ci := range s.schema.Cols {
			ivs, err := outrowIntervalsOf(&s.schema.Cols[ci], cols)
			if err != nil {
				return err
			}
			for _, iv := range ivs {
				blobs = append(blobs, liveBlob{iv.Ptr, iv.Length})
			}
		}
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].oldPtr < blobs[j].oldPtr })

	deltas := make(map[int64]int64, len(blobs))
	newPtr := int64(0)
	buf, release, err := s.buffers.BorrowGB1()
	if err != nil {
		return err
	}
	defer release()
	for i := 1; i < len(blobs); i++ {
		if blobs[i].oldPtr < blobs[i-1].oldPtr+blobs[i-1].length {
			return &ErrCorruption{Msg: "overlapping live VL intervals"}
		}
	}
	for _, b := range blobs {
		if b.oldPtr != newPtr {
			if err := copyRange(s.vlView, buf, b.oldPtr, newPtr, b.length); err != nil {
				return err
			}
		}
		deltas[b.oldPtr] = b.oldPtr - newPtr
		newPtr += b.length
	}

	if err := s.vlFiler.Truncate(vlHeaderSize + newPtr); err != nil {
		return &ErrIO{Op: "truncate VL", Name: s.vlFiler.Name(), Err: err}
	}
	s.vl.Reset(newPtr)

	for i := uint64(0); i < total; i++ {
		pos := s.fl.posOf(i)
		if _, err := s.flFiler.ReadAt(slot, pos); err != nil {
			return &ErrIO{Op: "VL compact rewrite scan", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(slot[0]) {
			continue
		}
		cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
		dirty := false
		for ci := range s.schema.Cols {
			if adjustOutrowPtr(&s.schema.Cols[ci], cols, deltas) {
				dirty = true
			}
		}
		if dirty {
			if _, err := s.flFiler.WriteAt(cols, pos+int64(s.schema.NBM+s.schema.NobsRefCount)); err != nil {
				return &ErrIO{Op: "VL compact rewrite", Name: s.flFiler.Name(), Err: err}
			}
		}
	}
	if err := s.flFiler.Sync(); err != nil {
		return err
	}
	return s.vlFiler.Sync()
}

func copyRange(f Filer, buf []byte, from, to, length int64) error {
	for length > 0 {
		n := int64(len(buf))
		if n > length {
			n = length
		}
		if _, err := f.ReadAt(buf[:n], from); err != nil {
			return &ErrIO{Op: "VL compact copy read", Name: f.Name(), Err: err}
		}
		if _, err := f.WriteAt(buf[:n], to); err != nil {
			return &ErrIO{Op: "VL compact copy write", Name: f.Name(), Err: err}
		}
		from += n
		to += n
		length -= n
	}
	return nil
}

func adjustOutrowPtr(ci *WRColInfo, cols []byte, deltas map[int64]int64) bool {
	field := cols[ci.Offset : ci.Offset+ci.Len]
	switch ci.Kind {
	case OutrowST, OutrowArray, OutrowArrayOfRef:
		length := int64(getUint(field[:ci.LengthLen]))
		ptr := int64(getUint(field[ci.LengthLen:]))
		if length == 0 && ptr == 0 {
			return false
		}
		if d, ok := deltas[ptr]; ok && d != 0 {
			putUint(field[ci.LengthLen:], uint64(ptr-d))
			return true
		}
		return false
	case InrowArrayOfOutrow:
		size := int(getUint(field[:ci.SizeLen]))
		off := ci.SizeLen
		elemWidth := ci.LengthLen + ci.NobsOutrowPtr
		changed := false
		for i := 0; i < size; i++ {
			e := field[off : off+elemWidth]
			length := int64(getUint(e[:ci.LengthLen]))
			ptr := int64(getUint(e[ci.LengthLen:]))
			if length != 0 || ptr != 0 {
				if d, ok := deltas[ptr]; ok && d != 0 {
					putUint(e[ci.LengthLen:], uint64(ptr-d))
					changed = true
				}
			}
			off += elemWidth
		}
		return changed
	}
	return false
}
