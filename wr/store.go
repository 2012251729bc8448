package wr

const vlHeaderSize = 16

// TableSchema describes one table's row-slot layout: the bitmap width,
// the optional reference-counter width, the fixed slot width, and the
// ordered column descriptors whose Offset fields are relative to the
// start of column data (after bitmap + RC).
type TableSchema struct {
	Cols         []WRColInfo
	NBM          int
	NobsRefCount int
	SlotLen      int64
}

// Database is the arena of tables a cross-table reference column
// resolves against: each WRColInfo.RefdTable is an index into Tables,
// not a pointer, so tables can reference each other (including
// themselves) without a cyclic ownership graph.
type Database struct {
	Tables []*Store
}

func (d *Database) IncRC(u *Unit, table int, ref RowRef) error {
	return d.Tables[table].incRC(u, ref)
}

func (d *Database) DecRC(u *Unit, table int, ref RowRef) error {
	return d.Tables[table].decRC(u, ref)
}

// Store is one table's open FL/VL file pair together with its free-space
// managers, schema and shared buffers.
type Store struct {
	name    string
	flFiler Filer
	vlFiler Filer
	vlView  *InnerFiler
	fl      *FLSpace
	vl      *VLSpace
	schema  TableSchema
	buffers *Buffers
	payload Payload
	db      *Database
	self    int
}

// Open opens (initialising headers if empty) a table's FL and VL files
// and reconstructs the VL free-space tree from the FL file's live outrow
// pointers, since that tree is never itself persisted.
func Open(name string, flFiler, vlFiler Filer, schema TableSchema, db *Database, selfIndex int, payload Payload) (*Store, error) {
	fl, err := OpenFLSpace(flFiler, FLFileID, schema.SlotLen)
	if err != nil {
		return nil, err
	}
	vlSize, err := vlFiler.Size()
	if err != nil {
		return nil, err
	}
	if vlSize < vlHeaderSize {
		if err := vlFiler.Truncate(vlHeaderSize); err != nil {
			return nil, err
		}
		vlSize = vlHeaderSize
	}
	view := NewInnerFiler(vlFiler, vlHeaderSize)
	vl := NewVLSpace(view, VLFileID, 0, vlSize-vlHeaderSize)

	s := &Store{
		name: name, flFiler: flFiler, vlFiler: vlFiler, vlView: view,
		fl: fl, vl: vl, schema: schema, buffers: NewBuffers(64 * 1024),
		payload: payload, db: db, self: selfIndex,
	}
	live, err := s.liveOutrowIntervals()
	if err != nil {
		return nil, err
	}
	if err := vl.ReconcileFromFL(live); err != nil {
		return nil, err
	}
	return s, nil
}

// liveOutrowIntervals walks every live FL row and collects the VL byte
// ranges its outrow columns occupy.
func (s *Store) liveOutrowIntervals() ([]Interval, error) {
	total, err := s.fl.totalSlots()
	if err != nil {
		return nil, err
	}
	var out []Interval
	slot := make([]byte, s.schema.SlotLen)
	for i := uint64(0); i < total; i++ {
		if _, err := s.flFiler.ReadAt(slot, s.fl.posOf(i)); err != nil {
			return nil, &ErrIO{Op: "scan FL row", Name: s.flFiler.Name(), Err: err}
		}
		if isGap(slot[0]) {
			continue
		}
		cols := slot[s.schema.NBM+s.schema.NobsRefCount:]
		for _, ci := range s.schema.Cols {
			ivs, err := outrowIntervalsOf(&ci, cols)
			if err != nil {
				return nil, err
			}
			out = append(out, ivs...)
		}
	}
	return out, nil
}

func outrowIntervalsOf(ci *WRColInfo, cols []byte) ([]Interval, error) {
	field := cols[ci.Offset : ci.Offset+ci.Len]
	switch ci.Kind {
	case OutrowST, OutrowArray, OutrowArrayOfRef:
		length := int64(getUint(field[:ci.LengthLen]))
		ptr := int64(getUint(field[ci.LengthLen:]))
		if length == 0 && ptr == 0 {
			return nil, nil
		}
		return []Interval{{Ptr: ptr, Length: length}}, nil
	case InrowArrayOfOutrow:
		size := int(getUint(field[:ci.SizeLen]))
		off := ci.SizeLen
		elemWidth := ci.LengthLen + ci.NobsOutrowPtr
		var out []Interval
		for i := 0; i < size; i++ {
			e := field[off : off+elemWidth]
			length := int64(getUint(e[:ci.LengthLen]))
			ptr := int64(getUint(e[ci.LengthLen:]))
			if length != 0 || ptr != 0 {
				out = append(out, Interval{Ptr: ptr, Length: length})
			}
			off += elemWidth
		}
		return out, nil
	}
	return nil, nil
}

// ReadBlob implements VLAccess.
func (s *Store) ReadBlob(ptr, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := s.vlView.ReadAt(buf, ptr); err != nil {
		return nil, &ErrIO{Op: "read VL blob", Name: s.vlFiler.Name(), Err: err}
	}
	return s.payload.Decode(buf)
}

// WriteBlob implements VLAccess. The length it returns is the on-disk
// size of the encoded payload (Payload.Encode's tag byte, and IV when
// encryption is on, add to it; compression can shrink it, so it differs
// from len(data)) — callers must
// record this length, not len(data), since it is what ReadBlob,
// FreeBlob and VL free-space reconciliation key off.
func (s *Store) WriteBlob(u *Unit, data []byte) (int64, int64, error) {
	stored, err := s.payload.Encode(data)
	if err != nil {
		return 0, 0, err
	}
	ptr, err := s.vl.Allocate(int64(len(stored)), u)
	if err != nil {
		return 0, 0, err
	}
	old := make([]byte, len(stored))
	if _, err := s.vlView.ReadAt(old, ptr); err == nil {
		if err := u.record(VLFileID, ptr, old); err != nil {
			return 0, 0, err
		}
	}
	if _, err := s.vlView.WriteAt(stored, ptr); err != nil {
		return 0, 0, &ErrIO{Op: "write VL blob", Name: s.vlFiler.Name(), Err: err}
	}
	return ptr, int64(len(stored)), nil
}

// FreeBlob implements VLAccess.
func (s *Store) FreeBlob(u *Unit, ptr, length int64) error {
	_ = u
	return s.vl.Deallocate(ptr, length)
}

func (s *Store) readRC(buf []byte) uint64 {
	if s.schema.NobsRefCount == 0 {
		return 0
	}
	return getUint(buf[s.schema.NBM : s.schema.NBM+s.schema.NobsRefCount])
}

func (s *Store) incRC(u *Unit, ref RowRef) error {
	return s.adjustRC(u, ref, 1)
}

func (s *Store) decRC(u *Unit, ref RowRef) error {
	return s.adjustRC(u, ref, -1)
}

// adjustRC changes a row's reference counter by delta, throwing
// ErrCorruption rather than silently under/overflowing, per this
// rewrite's resolution of the RC-corruption open question.
func (s *Store) adjustRC(u *Unit, ref RowRef, delta int) error {
	if s.schema.NobsRefCount == 0 {
		return &ErrCorruption{Msg: "reference counter adjusted on a table with no RC field"}
	}
	total, err := s.fl.totalSlots()
	if err != nil {
		return err
	}
	if ref == 0 || uint64(ref)-1 >= total {
		return &ErrIllegalReference{Table: s.name, Ref: ref}
	}
	pos := s.fl.posOf(uint64(ref) - 1)
	region := make([]byte, s.schema.NBM+s.schema.NobsRefCount)
	if _, err := s.flFiler.ReadAt(region, pos); err != nil {
		return &ErrIO{Op: "read RC", Name: s.flFiler.Name(), Err: err}
	}
	if isGap(region[0]) {
		return &ErrIllegalReference{Table: s.name, Ref: ref}
	}
	oldRC := region[s.schema.NBM : s.schema.NBM+s.schema.NobsRefCount]
	rc := getUint(oldRC)
	nrc := int64(rc) + int64(delta)
	if nrc < 0 {
		return &ErrCorruption{Msg: "reference counter would go negative"}
	}
	newRC := make([]byte, s.schema.NobsRefCount)
	if err := putUint(newRC, uint64(nrc)); err != nil {
		return &ErrCorruption{Msg: "reference counter would overflow its field width"}
	}
	if err := u.record(FLFileID, pos+int64(s.schema.NBM), oldRC); err != nil {
		return err
	}
	if _, err := s.flFiler.WriteAt(newRC, pos+int64(s.schema.NBM)); err != nil {
		return &ErrIO{Op: "write RC", Name: s.flFiler.Name(), Err: err}
	}
	return nil
}

// newUnit opens a Unit scoped to this store's two files. VLFileID is
// bound to the header-relative view so that every VL position recorded
// by VLSpace/WriteBlob (which all operate in view-relative coordinates)
// replays through the same translation on rollback.
func (s *Store) newUnit() *Unit {
	return NewUnit(map[int]Filer{FLFileID: s.flFiler, VLFileID: s.vlView})
}
