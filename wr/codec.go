package wr

// VLAccess is the subset of VL-file access the codec needs: reading an
// existing blob, writing a new one, and freeing one no longer
// referenced. WriteBlob returns both the pointer the blob was written
// at and the number of bytes it actually occupies on disk (after
// Payload's tag/compression/encryption framing, which can differ from
// len(data)) — callers must record that length in the FL field, since
// it is what ReadBlob/FreeBlob and VL free-space reconciliation need to
// agree on. Implemented by Store.
type VLAccess interface {
	ReadBlob(ptr, length int64) ([]byte, error)
	WriteBlob(u *Unit, data []byte) (ptr int64, storedLen int64, err error)
	FreeBlob(u *Unit, ptr, length int64) error
}

// RCAccess lets the codec maintain cross-table reference counters when a
// RT or array-of-reference column is written or nulled out. Implemented
// by Database (store.go), which owns the arena of tables a WRColInfo's
// RefdTable indexes into.
type RCAccess interface {
	IncRC(u *Unit, table int, ref RowRef) error
	DecRC(u *Unit, table int, ref RowRef) error
}

func getUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putUint(b []byte, v uint64) error {
	max := uint64(1)<<(uint(len(b))*8) - 1
	if len(b) == 8 {
		max = ^uint64(0)
	}
	if v > max {
		return &ErrMaxExceeded{Msg: "value does not fit in the column's declared width"}
	}
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// BytesToObject decodes the column described by ci out of slot (the full
// row's column-data region, i.e. not including bitmap/RC) and bitmap
// (the row's bitmap bytes), using vl to resolve outrow payloads.
func BytesToObject(ci *WRColInfo, bitmap, slot []byte, vl VLAccess) (ColValue, error) {
	field := slot[ci.Offset : ci.Offset+ci.Len]

	switch ci.Kind {
	case InrowST:
		if ci.NullBitMask >= 0 && bitGet(bitmap, ci.NullBitMask) {
			return ColValue{Null: true}, nil
		}
		return ColValue{ST: append([]byte(nil), field...)}, nil

	case OutrowST:
		length := int64(getUint(field[:ci.LengthLen]))
		ptr := int64(getUint(field[ci.LengthLen:]))
		if length == 0 && ptr == 0 {
			return ColValue{Null: true}, nil
		}
		data, err := vl.ReadBlob(ptr, length)
		if err != nil {
			return ColValue{}, err
		}
		return ColValue{ST: data}, nil

	case Ref:
		idx := getUint(field)
		if idx == 0 {
			return ColValue{Null: true}, nil
		}
		return ColValue{Ref: RowRef(idx)}, nil

	case InrowArrayOfInrow:
		return decodeInrowArrayOfInrow(ci, field)

	case InrowArrayOfOutrow:
		return decodeInrowArrayOfOutrow(ci, field, vl)

	case InrowArrayOfRef:
		return decodeInrowArrayOfRef(ci, field)

	case OutrowArray, OutrowArrayOfRef:
		length := int64(getUint(field[:ci.LengthLen]))
		ptr := int64(getUint(field[ci.LengthLen:]))
		if length == 0 && ptr == 0 {
			return ColValue{Null: true}, nil
		}
		blob, err := vl.ReadBlob(ptr, length)
		if err != nil {
			return ColValue{}, err
		}
		return decodeOutrowArrayBlob(ci, blob)
	}
	panic("wr: unknown column kind")
}

func decodeInrowArrayOfInrow(ci *WRColInfo, field []byte) (ColValue, error) {
	size := int(getUint(field[:ci.SizeLen]))
	if size > ci.MaxSize {
		return ColValue{}, &ErrCorruption{Msg: "inrow array size exceeds column maximum"}
	}
	off := ci.SizeLen
	var nullBits []byte
	if ci.ElemNullBitLen > 0 {
		nullBits = field[off : off+ci.ElemNullBitLen]
	}
	off += ci.ElemNullBitLen
	elems := make([]ArrayElem, size)
	for i := 0; i < size; i++ {
		if nullBits != nil && bitGet(nullBits, i) {
			elems[i] = ArrayElem{Null: true}
			off += ci.ElemLen
			continue
		}
		elems[i] = ArrayElem{ST: append([]byte(nil), field[off:off+ci.ElemLen]...)}
		off += ci.ElemLen
	}
	return ColValue{Elems: elems}, nil
}

func decodeInrowArrayOfRef(ci *WRColInfo, field []byte) (ColValue, error) {
	size := int(getUint(field[:ci.SizeLen]))
	if size > ci.MaxSize {
		return ColValue{}, &ErrCorruption{Msg: "inrow array size exceeds column maximum"}
	}
	off := ci.SizeLen
	elems := make([]ArrayElem, size)
	for i := 0; i < size; i++ {
		idx := getUint(field[off : off+ci.NobsRowRef])
		if idx == 0 {
			elems[i] = ArrayElem{Null: true}
		} else {
			elems[i] = ArrayElem{Ref: RowRef(idx)}
		}
		off += ci.NobsRowRef
	}
	return ColValue{Elems: elems}, nil
}

// decodeInrowArrayOfOutrow decodes a fixed inline array whose elements
// are themselves individually outrow: each element is a (length, ptr)
// pair inside the row slot, pointing at its own VL blob.
func decodeInrowArrayOfOutrow(ci *WRColInfo, field []byte, vl VLAccess) (ColValue, error) {
	size := int(getUint(field[:ci.SizeLen]))
	if size > ci.MaxSize {
		return ColValue{}, &ErrCorruption{Msg: "inrow array size exceeds column maximum"}
	}
	off := ci.SizeLen
	elemWidth := ci.LengthLen + ci.NobsOutrowPtr
	elems := make([]ArrayElem, size)
	for i := 0; i < size; i++ {
		e := field[off : off+elemWidth]
		length := int64(getUint(e[:ci.LengthLen]))
		ptr := int64(getUint(e[ci.LengthLen:]))
		if length == 0 && ptr == 0 {
			elems[i] = ArrayElem{Null: true}
		} else {
			data, err := vl.ReadBlob(ptr, length)
			if err != nil {
				return ColValue{}, err
			}
			elems[i] = ArrayElem{ST: data}
		}
		off += elemWidth
	}
	return ColValue{Elems: elems}, nil
}

// decodeOutrowArrayBlob decodes the VL-resident blob of an "entire array
// is one outrow value" column: sizeLen bytes of count, an optional
// per-element null-info bitmap, then the elements.
func decodeOutrowArrayBlob(ci *WRColInfo, blob []byte) (ColValue, error) {
	size := int(getUint(blob[:ci.SizeLen]))
	off := ci.SizeLen
	var nullBits []byte
	if ci.ElemNullBitLen > 0 {
		nullBits = blob[off : off+ci.ElemNullBitLen]
		off += ci.ElemNullBitLen
	}
	elemWidth := ci.ElemLen
	if ci.Kind.elemIsRef() {
		elemWidth = ci.NobsRowRef
	}
	elems := make([]ArrayElem, size)
	for i := 0; i < size; i++ {
		e := blob[off : off+elemWidth]
		null := nullBits != nil && bitGet(nullBits, i)
		switch {
		case ci.Kind.elemIsRef():
			idx := getUint(e)
			if idx == 0 {
				elems[i] = ArrayElem{Null: true}
			} else {
				elems[i] = ArrayElem{Ref: RowRef(idx)}
			}
		case null:
			elems[i] = ArrayElem{Null: true}
		default:
			elems[i] = ArrayElem{ST: append([]byte(nil), e...)}
		}
		off += elemWidth
	}
	return ColValue{Elems: elems}, nil
}

// ObjectToBytes encodes val into the column described by ci, writing
// into slot's column-data region and updating bitmap in place. old is
// the column's previously decoded value, needed to release outrow blobs
// it owned and to compute RC deltas for reference columns. It returns
// whether the bitmap was touched (the caller must then persist it).
func ObjectToBytes(ci *WRColInfo, val, old ColValue, bitmap, slot []byte, u *Unit, vl VLAccess, rc RCAccess) (bitmapChanged bool, err error) {
	field := slot[ci.Offset : ci.Offset+ci.Len]

	switch ci.Kind {
	case InrowST:
		if val.Null {
			if ci.NullBitMask < 0 {
				return false, &ErrIllegalArgument{Msg: "null written to non-nullable column"}
			}
			for i := range field {
				field[i] = 0
			}
			if !bitGet(bitmap, ci.NullBitMask) {
				bitSet(bitmap, ci.NullBitMask, true)
				bitmapChanged = true
			}
			return bitmapChanged, nil
		}
		if int64(len(val.ST)) != ci.Len {
			return false, &ErrIllegalArgument{Msg: "value length does not match column width", Arg: len(val.ST)}
		}
		copy(field, val.ST)
		if ci.NullBitMask >= 0 && bitGet(bitmap, ci.NullBitMask) {
			bitSet(bitmap, ci.NullBitMask, false)
			bitmapChanged = true
		}
		return bitmapChanged, nil

	case OutrowST:
		return false, encodeOutrowST(ci, val, old, field, u, vl)

	case Ref:
		return false, encodeRef(ci, val, old, field, u, rc)

	case InrowArrayOfInrow:
		return false, encodeInrowArrayOfInrow(ci, val, field)

	case InrowArrayOfRef:
		return false, encodeInrowArrayOfRef(ci, val, old, field, u, rc)

	case InrowArrayOfOutrow:
		return false, encodeInrowArrayOfOutrow(ci, val, old, field, u, vl)

	case OutrowArray:
		return false, encodeOutrowArray(ci, val, old, field, u, vl)

	case OutrowArrayOfRef:
		return false, encodeOutrowArrayOfRef(ci, val, old, field, u, vl, rc)
	}
	panic("wr: unknown column kind")
}

func encodeOutrowST(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, vl VLAccess) error {
	oldLen := int64(getUint(field[:ci.LengthLen]))
	oldPtr := int64(getUint(field[ci.LengthLen:]))

	if val.Null {
		for i := range field {
			field[i] = 0
		}
	} else {
		ptr, storedLen, err := vl.WriteBlob(u, val.ST)
		if err != nil {
			return err
		}
		if err := putUint(field[:ci.LengthLen], uint64(storedLen)); err != nil {
			return err
		}
		if err := putUint(field[ci.LengthLen:], uint64(ptr)); err != nil {
			return err
		}
	}
	if oldLen != 0 || oldPtr != 0 {
		return vl.FreeBlob(u, oldPtr, oldLen)
	}
	return nil
}

func encodeRef(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, rc RCAccess) error {
	if val.Null {
		for i := range field {
			field[i] = 0
		}
	} else if err := putUint(field, uint64(val.Ref)); err != nil {
		return err
	}
	if old.Ref == val.Ref {
		return nil
	}
	if old.Ref != 0 {
		if err := rc.DecRC(u, ci.RefdTable, old.Ref); err != nil {
			return err
		}
	}
	if val.Ref != 0 {
		if err := rc.IncRC(u, ci.RefdTable, val.Ref); err != nil {
			return err
		}
	}
	return nil
}

func encodeInrowArrayOfInrow(ci *WRColInfo, val ColValue, field []byte) error {
	if len(val.Elems) > ci.MaxSize {
		return &ErrIllegalArgument{Msg: "array exceeds column's maximum element count", Arg: len(val.Elems)}
	}
	for i := range field {
		field[i] = 0
	}
	if err := putUint(field[:ci.SizeLen], uint64(len(val.Elems))); err != nil {
		return err
	}
	off := ci.SizeLen
	var nullBits []byte
	if ci.ElemNullBitLen > 0 {
		nullBits = field[off : off+ci.ElemNullBitLen]
	}
	off += ci.ElemNullBitLen
	for i, e := range val.Elems {
		if e.Null {
			if nullBits == nil {
				return &ErrIllegalArgument{Msg: "null element in non-nullable array column"}
			}
			bitSet(nullBits, i, true)
		} else {
			if int64(len(e.ST)) != ci.ElemLen {
				return &ErrIllegalArgument{Msg: "array element length does not match column width"}
			}
			copy(field[off:off+ci.ElemLen], e.ST)
		}
		off += ci.ElemLen
	}
	return nil
}

func encodeInrowArrayOfRef(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, rc RCAccess) error {
	if len(val.Elems) > ci.MaxSize {
		return &ErrIllegalArgument{Msg: "array exceeds column's maximum element count", Arg: len(val.Elems)}
	}
	oldCounts := refMultiplicities(old.Elems)
	newCounts := refMultiplicities(val.Elems)
	if err := applyRefDeltas(u, rc, ci.RefdTable, oldCounts, newCounts); err != nil {
		return err
	}

	for i := range field {
		field[i] = 0
	}
	if err := putUint(field[:ci.SizeLen], uint64(len(val.Elems))); err != nil {
		return err
	}
	off := ci.SizeLen
	for _, e := range val.Elems {
		if !e.Null {
			if err := putUint(field[off:off+ci.NobsRowRef], uint64(e.Ref)); err != nil {
				return err
			}
		}
		off += ci.NobsRowRef
	}
	return nil
}

func encodeInrowArrayOfOutrow(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, vl VLAccess) error {
	if len(val.Elems) > ci.MaxSize {
		return &ErrIllegalArgument{Msg: "array exceeds column's maximum element count", Arg: len(val.Elems)}
	}
	elemWidth := ci.LengthLen + ci.NobsOutrowPtr
	for i := range field {
		field[i] = 0
	}
	if err := putUint(field[:ci.SizeLen], uint64(len(val.Elems))); err != nil {
		return err
	}
	off := ci.SizeLen
	for _, e := range val.Elems {
		dst := field[off : off+elemWidth]
		if !e.Null {
			ptr, storedLen, err := vl.WriteBlob(u, e.ST)
			if err != nil {
				return err
			}
			if err := putUint(dst[:ci.LengthLen], uint64(storedLen)); err != nil {
				return err
			}
			if err := putUint(dst[ci.LengthLen:], uint64(ptr)); err != nil {
				return err
			}
		}
		off += elemWidth
	}
	// Each old element's own (length, ptr) pair lived only in the
	// row's previous field bytes, not in the decoded old ColValue;
	// freeing them is done by the caller walking those bytes directly
	// before invoking ObjectToBytes (see Store.freeInrowArrayOutrowElems
	// in write.go), mirroring how OutrowST's previous blob is released
	// via the `old` argument here for the simpler, single-pointer case.
	_ = old
	return nil
}

func encodeOutrowArray(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, vl VLAccess) error {
	return encodeOutrowArrayBlob(ci, val, old, field, u, vl, nil)
}

func encodeOutrowArrayOfRef(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, vl VLAccess, rc RCAccess) error {
	oldCounts := refMultiplicities(old.Elems)
	newCounts := refMultiplicities(val.Elems)
	if err := applyRefDeltas(u, rc, ci.RefdTable, oldCounts, newCounts); err != nil {
		return err
	}
	return encodeOutrowArrayBlob(ci, val, old, field, u, vl, rc)
}

func encodeOutrowArrayBlob(ci *WRColInfo, val, old ColValue, field []byte, u *Unit, vl VLAccess, _ RCAccess) error {
	oldLen := int64(getUint(field[:ci.LengthLen]))
	oldPtr := int64(getUint(field[ci.LengthLen:]))

	if val.Null {
		for i := range field {
			field[i] = 0
		}
	} else {
		if len(val.Elems) > ci.MaxSize && ci.MaxSize > 0 {
			return &ErrIllegalArgument{Msg: "array exceeds column's maximum element count", Arg: len(val.Elems)}
		}
		elemWidth := ci.ElemLen
		if ci.Kind.elemIsRef() {
			elemWidth = ci.NobsRowRef
		}
		blobLen := ci.SizeLen + ci.ElemNullBitLen + len(val.Elems)*elemWidth
		blob := make([]byte, blobLen)
		if err := putUint(blob[:ci.SizeLen], uint64(len(val.Elems))); err != nil {
			return err
		}
		off := ci.SizeLen
		var nullBits []byte
		if ci.ElemNullBitLen > 0 {
			nullBits = blob[off : off+ci.ElemNullBitLen]
		}
		off += ci.ElemNullBitLen
		for i, e := range val.Elems {
			switch {
			case ci.Kind.elemIsRef():
				if !e.Null {
					if err := putUint(blob[off:off+elemWidth], uint64(e.Ref)); err != nil {
						return err
					}
				}
			case e.Null:
				if nullBits == nil {
					return &ErrIllegalArgument{Msg: "null element in non-nullable array column"}
				}
				bitSet(nullBits, i, true)
			default:
				copy(blob[off:off+elemWidth], e.ST)
			}
			off += elemWidth
		}
		ptr, storedLen, err := vl.WriteBlob(u, blob)
		if err != nil {
			return err
		}
		if err := putUint(field[:ci.LengthLen], uint64(storedLen)); err != nil {
			return err
		}
		if err := putUint(field[ci.LengthLen:], uint64(ptr)); err != nil {
			return err
		}
	}

	if oldLen != 0 || oldPtr != 0 {
		return vl.FreeBlob(u, oldPtr, oldLen)
	}
	return nil
}

// refMultiplicities counts how many times each non-null reference
// appears in elems, so that an array rewrite applies each distinct
// target's RC delta exactly once.
func refMultiplicities(elems []ArrayElem) map[RowRef]int {
	m := map[RowRef]int{}
	for _, e := range elems {
		if !e.Null && e.Ref != 0 {
			m[e.Ref]++
		}
	}
	return m
}

// applyRefDeltas decrements every target whose multiplicity dropped and
// increments every target whose multiplicity rose, between an array
// column's old and new contents.
func applyRefDeltas(u *Unit, rc RCAccess, table int, oldCounts, newCounts map[RowRef]int) error {
	seen := map[RowRef]bool{}
	for ref, oldN := range oldCounts {
		seen[ref] = true
		newN := newCounts[ref]
		if err := applyDelta(u, rc, table, ref, newN-oldN); err != nil {
			return err
		}
	}
	for ref, newN := range newCounts {
		if seen[ref] {
			continue
		}
		if err := applyDelta(u, rc, table, ref, newN); err != nil {
			return err
		}
	}
	return nil
}

func applyDelta(u *Unit, rc RCAccess, table int, ref RowRef, delta int) error {
	for ; delta > 0; delta-- {
		if err := rc.IncRC(u, table, ref); err != nil {
			return err
		}
	}
	for ; delta < 0; delta++ {
		if err := rc.DecRC(u, table, ref); err != nil {
			return err
		}
	}
	return nil
}
