package wr

// readRow reads ref's full slot, split into its bitmap, RC and column
// regions. It fails with ErrIllegalReference if the slot is a gap.
func (s *Store) readRow(ref RowRef) (slot []byte, bitmap []byte, cols []byte, err error) {
	if ref == 0 {
		return nil, nil, nil, &ErrIllegalReference{Table: s.name, Ref: ref}
	}
	total, err := s.fl.totalSlots()
	if err != nil {
		return nil, nil, nil, err
	}
	idx := uint64(ref) - 1
	if idx >= total {
		return nil, nil, nil, &ErrIllegalReference{Table: s.name, Ref: ref}
	}
	pos := s.fl.posOf(idx)
	slot = make([]byte, s.schema.SlotLen)
	if _, err := s.flFiler.ReadAt(slot, pos); err != nil {
		return nil, nil, nil, &ErrIO{Op: "read row", Name: s.flFiler.Name(), Err: err}
	}
	if isGap(slot[0]) {
		return nil, nil, nil, &ErrIllegalReference{Table: s.name, Ref: ref}
	}
	bitmap = slot[:s.schema.NBM]
	cols = slot[s.schema.NBM+s.schema.NobsRefCount:]
	return slot, bitmap, cols, nil
}

// Insert stores a new row in the first free slot of the gap chain, or
// in a slot appended to the file if there are no gaps, writing values in
// schema order. Reference
// and array-of-reference values increment their targets' RC; an illegal
// target fails with ErrIllegalReference via the RC bookkeeping path.
func (s *Store) Insert(values []ColValue) (RowRef, error) {
	if len(values) != len(s.schema.Cols) {
		return 0, &ErrIllegalArgument{Msg: "value count does not match column count"}
	}
	u := s.newUnit()
	idx, err := s.fl.Allocate(u)
	if err != nil {
		return 0, err
	}
	pos := s.fl.posOf(idx)

	old := make([]byte, s.schema.SlotLen)
	if _, err := s.flFiler.ReadAt(old, pos); err == nil {
		if err := u.record(FLFileID, pos, old); err != nil {
			_ = u.Rollback()
			return 0, err
		}
	}

	slot := make([]byte, s.schema.SlotLen)
	bitmap := slot[:s.schema.NBM]
	cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
	for i := range s.schema.Cols {
		ci := &s.schema.Cols[i]
		if _, err := ObjectToBytes(ci, values[i], ColValue{Null: true}, bitmap, cols, u, s, s.db); err != nil {
			_ = u.Rollback()
			return 0, err
		}
	}
	if _, err := s.flFiler.WriteAt(slot, pos); err != nil {
		_ = u.Rollback()
		return 0, &ErrIO{Op: "write row", Name: s.flFiler.Name(), Err: err}
	}
	u.Commit()
	return RowRef(idx + 1), nil
}

// Delete removes a row, rejecting it with ErrDeleteConstraint if its
// reference counter is still positive, and releasing every outrow blob
// and reference it owns.
func (s *Store) Delete(ref RowRef) error {
	slot, bitmap, cols, err := s.readRow(ref)
	if err != nil {
		return err
	}
	if s.schema.NobsRefCount > 0 {
		if rc := s.readRC(slot); rc > 0 {
			return &ErrDeleteConstraint{Table: s.name, Ref: ref, RC: rc}
		}
	}

	u := s.newUnit()
	pos := s.fl.posOf(uint64(ref) - 1)
	if err := u.record(FLFileID, pos, slot); err != nil {
		return err
	}

	for i := range s.schema.Cols {
		ci := &s.schema.Cols[i]
		if ci.Kind != Ref && ci.Kind != InrowArrayOfRef && ci.Kind != OutrowArrayOfRef {
			continue
		}
		old, err := BytesToObject(ci, bitmap, cols, s)
		if err != nil {
			_ = u.Rollback()
			return err
		}
		if err := s.releaseReferences(ci, old, u); err != nil {
			_ = u.Rollback()
			return err
		}
	}
	if err := s.freeRowOutrow(cols); err != nil {
		_ = u.Rollback()
		return err
	}

	if err := s.fl.Deallocate(u, uint64(ref)-1); err != nil {
		_ = u.Rollback()
		return err
	}
	u.Commit()
	return nil
}

// releaseReferences decrements RC on every distinct target a reference or
// array-of-reference column's old value points at, with multiplicity.
func (s *Store) releaseReferences(ci *WRColInfo, old ColValue, u *Unit) error {
	switch ci.Kind {
	case Ref:
		if old.Ref != 0 {
			return s.db.DecRC(u, ci.RefdTable, old.Ref)
		}
	case InrowArrayOfRef, OutrowArrayOfRef:
		for ref, n := range refMultiplicities(old.Elems) {
			for i := 0; i < n; i++ {
				if err := s.db.DecRC(u, ci.RefdTable, ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// freeRowOutrow frees every outrow blob a row's columns own, driven off
// the row's raw bytes (which is where (length, ptr) pairs actually live,
// for both scalar and inline-array-of-outrow columns).
func (s *Store) freeRowOutrow(cols []byte) error {
	for i := range s.schema.Cols {
		ci := &s.schema.Cols[i]
		ivs, err := outrowIntervalsOf(ci, cols)
		if err != nil {
			return err
		}
		for _, iv := range ivs {
			if err := s.vl.Deallocate(iv.Ptr, iv.Length); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get decodes the requested columns (by index into the schema) of ref.
func (s *Store) Get(ref RowRef, colIdx []int) ([]ColValue, error) {
	_, bitmap, cols, err := s.readRow(ref)
	if err != nil {
		return nil, err
	}
	out := make([]ColValue, len(colIdx))
	for i, ci := range colIdx {
		v, err := BytesToObject(&s.schema.Cols[ci], bitmap, cols, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Update writes a single column of one row.
func (s *Store) Update(ref RowRef, colIdx int, val ColValue) error {
	slot, bitmap, cols, err := s.readRow(ref)
	if err != nil {
		return err
	}
	ci := &s.schema.Cols[colIdx]
	old, err := BytesToObject(ci, bitmap, cols, s)
	if err != nil {
		return err
	}

	u := s.newUnit()
	pos := s.fl.posOf(uint64(ref) - 1)
	if err := u.record(FLFileID, pos, slot); err != nil {
		return err
	}

	if ci.Kind == InrowArrayOfOutrow {
		field := cols[ci.Offset : ci.Offset+ci.Len]
		if err := s.freeInrowArrayOutrowElems(ci, field); err != nil {
			_ = u.Rollback()
			return err
		}
	}

	changed, err := ObjectToBytes(ci, val, old, bitmap, cols, u, s, s.db)
	if err != nil {
		_ = u.Rollback()
		return err
	}
	if changed {
		if _, err := s.flFiler.WriteAt(bitmap, pos); err != nil {
			_ = u.Rollback()
			return &ErrIO{Op: "write bitmap", Name: s.flFiler.Name(), Err: err}
		}
	}
	field := cols[ci.Offset : ci.Offset+ci.Len]
	if _, err := s.flFiler.WriteAt(field, pos+int64(s.schema.NBM+s.schema.NobsRefCount)+ci.Offset); err != nil {
		_ = u.Rollback()
		return &ErrIO{Op: "write column", Name: s.flFiler.Name(), Err: err}
	}
	u.Commit()
	return nil
}

// freeInrowArrayOutrowElems releases the per-element VL blobs of an
// InrowArrayOfOutrow column's current (about to be overwritten) bytes.
func (s *Store) freeInrowArrayOutrowElems(ci *WRColInfo, field []byte) error {
	size := int(getUint(field[:ci.SizeLen]))
	off := ci.SizeLen
	elemWidth := ci.LengthLen + ci.NobsOutrowPtr
	for i := 0; i < size; i++ {
		e := field[off : off+elemWidth]
		length := int64(getUint(e[:ci.LengthLen]))
		ptr := int64(getUint(e[ci.LengthLen:]))
		if length != 0 || ptr != 0 {
			if err := s.vl.Deallocate(ptr, length); err != nil {
				return err
			}
		}
		off += elemWidth
	}
	return nil
}

// ValueSupplier produces the value to store in colIdx for a row, given
// the row's reference, for UpdateAll.
type ValueSupplier func(ref RowRef) (ColValue, bool, error)

// ValueChanger produces the new value in colIdx for a row from its
// current value, for UpdateAllChanger.
type ValueChanger func(ref RowRef, current ColValue) (ColValue, bool, error)

// UpdateAll walks every live row and, for each, asks supplier for a new
// value of colIdx; returning ok=false skips that row.
func (s *Store) UpdateAll(colIdx int, supplier ValueSupplier) error {
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	for i := uint64(0); i < total; i++ {
		ref := RowRef(i + 1)
		var head [1]byte
		if _, err := s.flFiler.ReadAt(head[:], s.fl.posOf(i)); err != nil {
			return &ErrIO{Op: "scan row", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(head[0]) {
			continue
		}
		val, ok, err := supplier(ref)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.Update(ref, colIdx, val); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAllChanger is UpdateAll's variant that also decodes each row's
// current value of colIdx for the changer to inspect.
func (s *Store) UpdateAllChanger(colIdx int, changer ValueChanger) error {
	return s.UpdateAll(colIdx, func(ref RowRef) (ColValue, bool, error) {
		cur, err := s.Get(ref, []int{colIdx})
		if err != nil {
			return ColValue{}, false, err
		}
		return changer(ref, cur[0])
	})
}

// UpdateAllColumns updates a fixed set of columns of one row together,
// sharing a single unit so a mid-operation failure rolls every column
// back in one step.
func (s *Store) UpdateAllColumns(ref RowRef, colIdx []int, vals []ColValue) error {
	if len(colIdx) != len(vals) {
		return &ErrIllegalArgument{Msg: "column and value count mismatch"}
	}
	slot, bitmap, cols, err := s.readRow(ref)
	if err != nil {
		return err
	}
	u := s.newUnit()
	pos := s.fl.posOf(uint64(ref) - 1)
	if err := u.record(FLFileID, pos, slot); err != nil {
		return err
	}
	bitmapChanged := false
	for i, ci := range colIdx {
		col := &s.schema.Cols[ci]
		old, err := BytesToObject(col, bitmap, cols, s)
		if err != nil {
			_ = u.Rollback()
			return err
		}
		if col.Kind == InrowArrayOfOutrow {
			field := cols[col.Offset : col.Offset+col.Len]
			if err := s.freeInrowArrayOutrowElems(col, field); err != nil {
				_ = u.Rollback()
				return err
			}
		}
		changed, err := ObjectToBytes(col, vals[i], old, bitmap, cols, u, s, s.db)
		if err != nil {
			_ = u.Rollback()
			return err
		}
		bitmapChanged = bitmapChanged || changed
	}
	if bitmapChanged {
		if _, err := s.flFiler.WriteAt(bitmap, pos); err != nil {
			_ = u.Rollback()
			return &ErrIO{Op: "write bitmap", Name: s.flFiler.Name(), Err: err}
		}
	}
	if _, err := s.flFiler.WriteAt(cols, pos+int64(s.schema.NBM+s.schema.NobsRefCount)); err != nil {
		_ = u.Rollback()
		return &ErrIO{Op: "write columns", Name: s.flFiler.Name(), Err: err}
	}
	u.Commit()
	return nil
}

// Iterate calls fn for every live row's requested columns, in ascending
// row-index order, stopping early if fn returns false or an error.
func (s *Store) Iterate(colIdx []int, fn func(ref RowRef, vals []ColValue) (bool, error)) error {
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	buf, release, err := s.buffers.BorrowGB1()
	if err != nil {
		return err
	}
	defer release()
	rowsPerChunk := len(buf) / int(s.schema.SlotLen)
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	for start := uint64(0); start < total; start += uint64(rowsPerChunk) {
		n := uint64(rowsPerChunk)
		if start+n > total {
			n = total - start
		}
		chunk := buf[:n*uint64(s.schema.SlotLen)]
		if _, err := s.flFiler.ReadAt(chunk, s.fl.posOf(start)); err != nil {
			return &ErrIO{Op: "scan rows", Name: s.flFiler.Name(), Err: err}
		}
		for i := uint64(0); i < n; i++ {
			slot := chunk[i*uint64(s.schema.SlotLen) : (i+1)*uint64(s.schema.SlotLen)]
			if isGap(slot[0]) {
				continue
			}
			bitmap := slot[:s.schema.NBM]
			cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
			vals := make([]ColValue, len(colIdx))
			for j, ci := range colIdx {
				v, err := BytesToObject(&s.schema.Cols[ci], bitmap, cols, s)
				if err != nil {
					return err
				}
				vals[j] = v
			}
			cont, err := fn(RowRef(start+i+1), vals)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	}
	return nil
}
