package wr

// File identifiers a Unit uses to address the Filers it protects. A Store
// has exactly two: its FL file and its VL file.
const (
	FLFileID = 0
	VLFileID = 1
)

type opRecord struct {
	grow   bool // true: rollback truncates fileID back to pos
	fileID int
	pos    int64
	old    []byte
}

// Unit is a scoped write-transaction: a before-image log that can restore
// the byte state of the files it protects. A nil *Unit is valid and means
// "no durability envelope" — used by reads and by the unlogged ACDP zone
// that compaction and migration run in.
type Unit struct {
	files  map[int]Filer
	log    []opRecord
	broken bool
}

// NewUnit opens a unit over the given files, keyed by the FLFileID/
// VLFileID (or other caller-chosen) identifiers.
func NewUnit(files map[int]Filer) *Unit {
	return &Unit{files: files}
}

// record appends the before-image old (the bytes currently at pos in
// fileID, about to be overwritten) to the unit's log. It is a no-op on a
// nil unit.
func (u *Unit) record(fileID int, pos int64, old []byte) error {
	if u == nil {
		return nil
	}
	if u.broken {
		return &ErrUnitBroken{Msg: "unit already broken"}
	}
	cp := make([]byte, len(old))
	copy(cp, old)
	u.log = append(u.log, opRecord{fileID: fileID, pos: pos, old: cp})
	return nil
}

// recordGrow appends a sentinel before-image for a newly-extended file
// region: on rollback, fileID is truncated back to preGrowSize rather
// than having bytes rewritten into it.
func (u *Unit) recordGrow(fileID int, preGrowSize int64) error {
	if u == nil {
		return nil
	}
	if u.broken {
		return &ErrUnitBroken{Msg: "unit already broken"}
	}
	u.log = append(u.log, opRecord{grow: true, fileID: fileID, pos: preGrowSize})
	return nil
}

// Commit discards the unit's log. The caller is responsible for forcing
// the protected files beforehand.
func (u *Unit) Commit() {
	if u == nil {
		return
	}
	u.log = nil
}

// Rollback replays the before-image log in reverse, restoring every
// protected file to its state before the unit began. A failure while
// replaying poisons the unit (ErrUnitBroken); the database should be
// treated as compromised at that point, since a rollback that itself
// fails has nothing left to fall back on.
func (u *Unit) Rollback() error {
	if u == nil {
		return nil
	}
	for i := len(u.log) - 1; i >= 0; i-- {
		r := u.log[i]
		f, ok := u.files[r.fileID]
		if !ok {
			u.broken = true
			return &ErrUnitBroken{Msg: "rollback: unknown file id"}
		}
		var err error
		if r.grow {
			err = f.Truncate(r.pos)
		} else {
			_, err = f.WriteAt(r.old, r.pos)
		}
		if err != nil {
			u.broken = true
			return &ErrUnitBroken{Msg: "rollback: replay failed", Err: err}
		}
	}
	u.log = nil
	return nil
}

// Broken reports whether the unit has been poisoned by a failed record
// or a failed rollback replay.
func (u *Unit) Broken() bool {
	return u != nil && u.broken
}
