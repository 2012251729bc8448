package wr

// Migration rewrites every row of an FL file while changing its row
// width: the accommodation engine that reshapes a table in place when a
// column is added or a reference column's width changes. It
// deliberately does not open a Unit — rewriting runs in an unlogged
// zone, so a crash mid-migration leaves the file in a mixed state the
// caller must treat as compromised. BackupFiles/Recover (backup.go)
// give that precondition an explicit entry point.
//
// Column insertion only changes which byte range each existing column
// occupies, never an existing column's own bytes (their blob pointers,
// if any, stay put) — so migration here is a structural relayout plus,
// for the one newly-inserted column, a normal codec write of its initial
// value. The old row's decoded bitmap/columns are captured once per row
// before the new row is assembled, and each relaid-out column is
// inlined as a slice copy or a single ObjectToBytes call.

// InsertColumn adds a new column at schema position idx (0-based), with
// every existing row receiving initial's value. If addRC is true and
// the table did not previously carry a reference counter, one is
// installed (all rows start at RC=0); addRC is ignored if the table
// already has one.
func (s *Store) InsertColumn(idx int, ci WRColInfo, initial ColValue, addRC bool) error {
	if idx < 0 || idx > len(s.schema.Cols) {
		return &ErrIllegalArgument{Msg: "column index out of range", Arg: idx}
	}

	oldSchema := s.schema
	newNobsRefCount := oldSchema.NobsRefCount
	if addRC && newNobsRefCount == 0 {
		newNobsRefCount = 8
	}

	newCols := make([]WRColInfo, 0, len(oldSchema.Cols)+1)
	newCols = append(newCols, oldSchema.Cols[:idx]...)
	insertedOffset := int64(0)
	if idx > 0 {
		prev := oldSchema.Cols[idx-1]
		insertedOffset = prev.Offset + prev.Len
	}
	ci.Offset = insertedOffset
	newCols = append(newCols, ci)
	for _, c := range oldSchema.Cols[idx:] {
		c.Offset += ci.Len
		newCols = append(newCols, c)
	}

	needsNullBit := ci.NullBitMask >= 0
	newNBM := oldSchema.NBM
	if needsNullBit {
		maxBitUsed := ci.NullBitMask
		for _, c := range newCols {
			if c.NullBitMask > maxBitUsed {
				maxBitUsed = c.NullBitMask
			}
		}
		needed := maxBitUsed/8 + 1
		if needed > newNBM {
			newNBM = needed
		}
	}

	newSlotLen := int64(newNBM) + int64(newNobsRefCount)
	for _, c := range newCols {
		newSlotLen += c.Len
	}

	return s.relayoutRows(oldSchema, TableSchema{Cols: newCols, NBM: newNBM, NobsRefCount: newNobsRefCount, SlotLen: newSlotLen},
		func(oldBitmap, oldCols []byte, newBitmap, newCols2 []byte) error {
			// Copy every pre-existing column's bytes unchanged at its new
			// offset, and carry forward its null-info bit if the bitmap
			// grew.
			off := int64(0)
			for i, c := range oldSchema.Cols {
				copy(newCols2[newCols[colIndexShift(i, idx)].Offset:], oldCols[c.Offset:c.Offset+c.Len])
				if c.NullBitMask >= 0 && bitGet(oldBitmap, c.NullBitMask) {
					bitSet(newBitmap, newCols[colIndexShift(i, idx)].NullBitMask, true)
				}
				off += c.Len
			}
			_ = off
			u := (*Unit)(nil)
			_, err := ObjectToBytes(&ci, initial, ColValue{Null: true}, newBitmap, newCols2, u, s, s.db)
			return err
		})
}

// colIndexShift maps an old column index to its position in the new
// column list once a column has been inserted at idx.
func colIndexShift(oldIdx, insertAt int) int {
	if oldIdx < insertAt {
		return oldIdx
	}
	return oldIdx + 1
}

// relayoutRows rewrites the FL file row by row from oldSchema's layout
// to newSchema's layout, invoking build once per live row with the old
// row's bitmap/columns and freshly zeroed new bitmap/columns to fill.
// Gap rows are preserved as gaps at the same relative position; widening
// is applied back-to-front and narrowing front-to-back so the rewrite
// never reads bytes it has already overwritten.
func (s *Store) relayoutRows(oldSchema, newSchema TableSchema, build func(oldBitmap, oldCols, newBitmap, newCols []byte) error) error {
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	widening := newSchema.SlotLen >= oldSchema.SlotLen

	newFileSize := flHeaderSize + int64(total)*newSchema.SlotLen
	if widening {
		if err := s.flFiler.Truncate(newFileSize); err != nil {
			return &ErrIO{Op: "grow FL for migration", Name: s.flFiler.Name(), Err: err}
		}
	}

	rewriteOne := func(i uint64) error {
		oldPos := flHeaderSize + int64(i)*oldSchema.SlotLen
		newPos := flHeaderSize + int64(i)*newSchema.SlotLen

		oldSlot := make([]byte, oldSchema.SlotLen)
		if _, err := s.flFiler.ReadAt(oldSlot, oldPos); err != nil {
			return &ErrIO{Op: "migration read", Name: s.flFiler.Name(), Err: err}
		}

		newSlot := make([]byte, newSchema.SlotLen)
		if isGap(oldSlot[0]) {
			newSlot[0] = oldSlot[0]
			copy(newSlot[1:8], oldSlot[1:8])
		} else {
			oldBitmap := oldSlot[:oldSchema.NBM]
			oldRC := oldSlot[oldSchema.NBM : oldSchema.NBM+oldSchema.NobsRefCount]
			oldCols := oldSlot[oldSchema.NBM+oldSchema.NobsRefCount:]

			newBitmap := newSlot[:newSchema.NBM]
			newRC := newSlot[newSchema.NBM : newSchema.NBM+newSchema.NobsRefCount]
			newCols := newSlot[newSchema.NBM+newSchema.NobsRefCount:]

			copy(newRC, oldRC)
			if err := build(oldBitmap, oldCols, newBitmap, newCols); err != nil {
				return err
			}
		}

		if _, err := s.flFiler.WriteAt(newSlot, newPos); err != nil {
			return &ErrIO{Op: "migration write", Name: s.flFiler.Name(), Err: err}
		}
		return nil
	}

	if widening {
		for i := total; i > 0; i-- {
			if err := rewriteOne(i - 1); err != nil {
				return err
			}
		}
	} else {
		for i := uint64(0); i < total; i++ {
			if err := rewriteOne(i); err != nil {
				return err
			}
		}
		if err := s.flFiler.Truncate(newFileSize); err != nil {
			return &ErrIO{Op: "shrink FL for migration", Name: s.flFiler.Name(), Err: err}
		}
	}

	s.schema = newSchema
	s.fl.slotLen = newSchema.SlotLen
	if err := s.fl.Reset(nil, total); err != nil {
		return err
	}
	// The gap chain's links were copied byte-for-byte above, but Reset
	// zeroed the bookkeeping; rebuild it from the relaid-out bytes so
	// gaps/root reflect the new file rather than an empty chain.
	return s.fl.RebuildChainOfGaps(nil)
}

// ChangeRefLen changes the row-reference width used to address rows of
// table targetIdx, from its current width to newWidth, and rewrites
// every RT / array-of-reference column across the database that refers
// to it. The caller must ensure newWidth can hold the referenced
// table's maximum live row index; narrowing that would truncate a
// nonzero value is refused with ErrIllegalArgument.
func (db *Database) ChangeRefLen(targetIdx int, newWidth int) error {
	if newWidth < 1 || newWidth > 8 {
		return &ErrIllegalArgument{Msg: "reference width must be 1..8 bytes", Arg: newWidth}
	}
	target := db.Tables[targetIdx]
	maxRef, err := target.maxLiveRowIndex()
	if err != nil {
		return err
	}
	if newWidth < 8 {
		limit := uint64(1)<<(uint(newWidth)*8) - 1
		if maxRef > limit {
			return &ErrIllegalArgument{Msg: "new reference width cannot hold the table's maximum live row index"}
		}
	}

	for _, table := range db.Tables {
		if table == nil {
			continue
		}
		if err := table.changeRefLenForTarget(targetIdx, newWidth); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) maxLiveRowIndex() (uint64, error) {
	total, err := s.fl.totalSlots()
	if err != nil {
		return 0, err
	}
	var max uint64
	var head [1]byte
	for i := uint64(0); i < total; i++ {
		if _, err := s.flFiler.ReadAt(head[:], s.fl.posOf(i)); err != nil {
			return 0, &ErrIO{Op: "scan for max row", Name: s.flFiler.Name(), Err: err}
		}
		if !isGap(head[0]) && i+1 > max {
			max = i + 1
		}
	}
	return max, nil
}

// changeRefLenForTarget rewrites this table's RT and inline
// array-of-reference columns that reference targetIdx to newWidth. Such
// columns change width, so the whole row is relaid out, the same as
// InsertColumn; out-of-line array-of-reference columns keep their FL
// field width (a length+pointer pair) and only their VL blob content
// changes, handled separately without a relayout.
func (s *Store) changeRefLenForTarget(targetIdx, newWidth int) error {
	oldSchema := s.schema
	changed := false
	newCols := make([]WRColInfo, len(oldSchema.Cols))
	copy(newCols, oldSchema.Cols)
	offset := int64(0)
	for i := range newCols {
		c := &newCols[i]
		c.Offset = offset
		if c.RefdTable == targetIdx {
			switch c.Kind {
			case Ref:
				c.Len = int64(newWidth)
				c.NobsRowRef = newWidth
				changed = true
			case InrowArrayOfRef:
				c.NobsRowRef = newWidth
				c.Len = int64(c.SizeLen) + int64(c.MaxSize*newWidth)
				changed = true
			}
		}
		offset += c.Len
	}

	if changed {
		newSlotLen := int64(oldSchema.NBM) + int64(oldSchema.NobsRefCount)
		for _, c := range newCols {
			newSlotLen += c.Len
		}
		newSchema := TableSchema{Cols: newCols, NBM: oldSchema.NBM, NobsRefCount: oldSchema.NobsRefCount, SlotLen: newSlotLen}
		if err := s.relayoutRows(oldSchema, newSchema, func(oldBitmap, oldCols, newBitmap, newColsBuf []byte) error {
			copy(newBitmap, oldBitmap)
			for i, oc := range oldSchema.Cols {
				nc := &newCols[i]
				if oc.RefdTable == targetIdx && (oc.Kind == Ref || oc.Kind == InrowArrayOfRef) {
					if err := rewriteRefWidth(&oc, nc, oldCols, newColsBuf); err != nil {
						return err
					}
					continue
				}
				copy(newColsBuf[nc.Offset:nc.Offset+nc.Len], oldCols[oc.Offset:oc.Offset+oc.Len])
			}
			return nil
		}); err != nil {
			return err
		}
	}

	for i := range s.schema.Cols {
		c := &s.schema.Cols[i]
		if c.RefdTable == targetIdx && c.Kind == OutrowArrayOfRef {
			if err := s.rewriteOutrowRefArrayWidth(c, newWidth); err != nil {
				return err
			}
		}
	}
	return nil
}

func rewriteRefWidth(oc, nc *WRColInfo, oldCols, newCols []byte) error {
	switch oc.Kind {
	case Ref:
		v := getUint(oldCols[oc.Offset : oc.Offset+oc.Len])
		return putUint(newCols[nc.Offset:nc.Offset+nc.Len], v)
	case InrowArrayOfRef:
		size := int(getUint(oldCols[oc.Offset : oc.Offset+int64(oc.SizeLen)]))
		dst := newCols[nc.Offset : nc.Offset+nc.Len]
		if err := putUint(dst[:nc.SizeLen], uint64(size)); err != nil {
			return err
		}
		oldOff := oc.Offset + int64(oc.SizeLen)
		newOff := int64(nc.SizeLen)
		for i := 0; i < size; i++ {
			v := getUint(oldCols[oldOff : oldOff+int64(oc.NobsRowRef)])
			if err := putUint(dst[newOff:newOff+int64(nc.NobsRowRef)], v); err != nil {
				return err
			}
			oldOff += int64(oc.NobsRowRef)
			newOff += int64(nc.NobsRowRef)
		}
	}
	return nil
}

// rewriteOutrowRefArrayWidth rebuilds every row's out-of-line
// array-of-reference blob for column c at the new element width. The
// FL field (a length+pointer pair) does not change width; only the VL
// blob's internal element size does, so this runs without a relayout.
func (s *Store) rewriteOutrowRefArrayWidth(c *WRColInfo, newWidth int) error {
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	oldWidth := c.NobsRowRef
	slot := make([]byte, s.schema.SlotLen)
	for i := uint64(0); i < total; i++ {
		pos := s.fl.posOf(i)
		if _, err := s.flFiler.ReadAt(slot, pos); err != nil {
			return &ErrIO{Op: "ref-width scan", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(slot[0]) {
			continue
		}
		cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
		field := cols[c.Offset : c.Offset+c.Len]
		length := int64(getUint(field[:c.LengthLen]))
		ptr := int64(getUint(field[c.LengthLen:]))
		if length == 0 && ptr == 0 {
			continue
		}
		oldBlob, err := s.ReadBlob(ptr, length)
		if err != nil {
			return err
		}
		size := int(getUint(oldBlob[:c.SizeLen]))
		newBlob := make([]byte, c.SizeLen+size*newWidth)
		copy(newBlob[:c.SizeLen], oldBlob[:c.SizeLen])
		oldOff, newOff := c.SizeLen, c.SizeLen
		for j := 0; j < size; j++ {
			v := getUint(oldBlob[oldOff : oldOff+oldWidth])
			if err := putUint(newBlob[newOff:newOff+newWidth], v); err != nil {
				return err
			}
			oldOff += oldWidth
			newOff += newWidth
		}
		u := s.newUnit()
		newPtr, newLen, err := s.WriteBlob(u, newBlob)
		if err != nil {
			return err
		}
		if err := s.vl.Deallocate(ptr, length); err != nil {
			return err
		}
		putUint(field[:c.LengthLen], uint64(newLen))
		putUint(field[c.LengthLen:], uint64(newPtr))
		if _, err := s.flFiler.WriteAt(cols, pos+int64(s.schema.NBM+s.schema.NobsRefCount)); err != nil {
			return &ErrIO{Op: "ref-width FL write", Name: s.flFiler.Name(), Err: err}
		}
		u.Commit()
	}
	c.NobsRowRef = newWidth
	return nil
}
