package wr

// ColKind tags which of the eight column layouts a WRColInfo describes.
// Dispatch is per-column, decided once at schema-open time and never
// re-inspected per value, matching the "inline-dispatched enum" design
// note: a single type switch in codec.go replaces per-value virtual
// calls.
type ColKind int

const (
	InrowST ColKind = iota
	OutrowST
	Ref
	InrowArrayOfInrow
	InrowArrayOfOutrow
	OutrowArray
	InrowArrayOfRef
	OutrowArrayOfRef
)

// RowRef is an opaque 1-based row index; 0 denotes null.
type RowRef uint64

// WRColInfo describes one column's fixed subrange within a row slot and
// everything the codec needs to read or write it.
type WRColInfo struct {
	Kind ColKind

	// Offset and Len are this column's byte range within the row slot,
	// counted from the start of column data (after bitmap + RC).
	Offset, Len int64

	// NullBitMask is the bit index of this column's null-info bit within
	// the row's bitmap, or -1 if the column has no null-info (a
	// non-nullable inrow ST).
	NullBitMask int

	// LengthLen/NobsOutrowPtr size the length-prefix and VL-pointer
	// fields of an outrow ST or outrow array column.
	LengthLen     int
	NobsOutrowPtr int

	// NobsRowRef sizes a reference value, either a single RT column or
	// the element width of an array-of-references column.
	NobsRowRef int

	// RefdTable is the arena index (see Database in store.go) of the
	// table an RT/array-of-ref column references.
	RefdTable int

	// SizeLen and MaxSize size an inrow array's element-count prefix and
	// bound its element count; ElemLen is one element's inrow width.
	SizeLen int
	MaxSize int
	ElemLen int

	// ElemNullBitLen is the number of bytes of inline per-element
	// null-info bitmap carried ahead of the elements (inrow) or ahead of
	// the elements inside the blob (outrow), 0 if elements are not
	// nullable.
	ElemNullBitLen int
}

// ArrayElem is one decoded element of an array column.
type ArrayElem struct {
	Null bool
	ST   []byte
	Ref  RowRef
}

// ColValue is the decoded form of any column, tagged by the owning
// WRColInfo.Kind. Only the field(s) relevant to that kind are populated.
// Simple-type payloads are carried as raw fixed-width bytes: the codec
// moves column bytes without interpreting their application-level type,
// per this engine's scope (type-system metadata beyond what the core
// consumes is a collaborator's concern).
type ColValue struct {
	Null  bool
	ST    []byte
	Ref   RowRef
	Elems []ArrayElem
}

// isArray reports whether a column kind carries an Elems slice.
func (k ColKind) isArray() bool {
	switch k {
	case InrowArrayOfInrow, InrowArrayOfOutrow, OutrowArray, InrowArrayOfRef, OutrowArrayOfRef:
		return true
	}
	return false
}

// isOutrow reports whether a column kind stores its payload in the VL
// file rather than inline in the row slot.
func (k ColKind) isOutrow() bool {
	switch k {
	case OutrowST, InrowArrayOfOutrow, OutrowArray, OutrowArrayOfRef:
		return true
	}
	return false
}

// elemIsRef reports whether a column kind's array elements are
// references rather than simple-type payloads.
func (k ColKind) elemIsRef() bool {
	return k == InrowArrayOfRef || k == OutrowArrayOfRef
}
