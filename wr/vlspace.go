package wr

import "math/rand"

// vlHole is one free byte-range treap node, keyed by ptr.
type vlHole struct {
	ptr, length int64
	priority    int32
	left, right *vlHole
}

// VLSpace tracks the free holes of a VL file as a treap ordered by ptr,
// coalescing exactly adjacent holes on insert; an inserted range that
// overlaps an existing hole is not merged with it. Holes are
// byte-granular intervals rather than size-classed free lists, since the
// VL file's blobs come in arbitrary sizes.
//
// The tree is never persisted: it is reconstructed from the FL file's
// live outrow pointers every time a Store is opened (ReconcileFromFL),
// since deriving it from those pointers is cheap and never goes stale.
type VLSpace struct {
	f           Filer
	fileID      int
	start       int64
	size        int64
	root        *vlHole
	deallocated int64
}

// NewVLSpace returns an empty VLSpace for the byte range [start, size)
// of f; the caller calls ReconcileFromFL immediately after, with the
// live intervals gathered from the FL file, to populate its holes.
func NewVLSpace(f Filer, fileID int, start, size int64) *VLSpace {
	return &VLSpace{f: f, fileID: fileID, start: start, size: size}
}

// Interval is a live (or free) contiguous byte range.
type Interval struct {
	Ptr, Length int64
}

// ReconcileFromFL rebuilds the free-hole tree from the set of live
// blob intervals (gathered by the caller by walking every FL row's
// outrow pointers). live need not be sorted.
func (s *VLSpace) ReconcileFromFL(live []Interval) error {
	s.root = nil
	s.deallocated = 0
	sorted := append([]Interval(nil), live...)
	insertionSort(sorted)
	cursor := s.start
	for _, iv := range sorted {
		if iv.Ptr < cursor {
			return &ErrCorruption{Msg: "overlapping live VL intervals"}
		}
		if iv.Ptr > cursor {
			s.insertHole(cursor, iv.Ptr-cursor)
		}
		cursor = iv.Ptr + iv.Length
	}
	if cursor > s.size {
		return &ErrCorruption{Msg: "live VL interval extends past file size"}
	}
	if cursor < s.size {
		s.insertHole(cursor, s.size-cursor)
	}
	return nil
}

func insertionSort(iv []Interval) {
	for i := 1; i < len(iv); i++ {
		for j := i; j > 0 && iv[j-1].Ptr > iv[j].Ptr; j-- {
			iv[j-1], iv[j] = iv[j], iv[j-1]
		}
	}
}

// Allocate returns a pointer to a free region of the given length,
// reusing the leftmost (smallest ptr) hole of sufficient size if one
// exists, otherwise extending the file's tail.
func (s *VLSpace) Allocate(length int64, u *Unit) (int64, error) {
	if length <= 0 {
		return 0, &ErrIllegalArgument{Msg: "non-positive VL allocation length", Arg: length}
	}
	if h := findLeftmostFit(s.root, length); h != nil {
		ptr := h.ptr
		h.ptr += length
		h.length -= length
		if h.length == 0 {
			s.root = deleteHole(s.root, ptr)
		}
		return ptr, nil
	}

	ptr := s.size
	newSize := s.size + length
	if newSize < s.size {
		return 0, &ErrMaxExceeded{Msg: "VL file size would overflow a signed 64-bit length"}
	}
	if err := u.recordGrow(s.fileID, s.start+s.size); err != nil {
		return 0, err
	}
	if err := s.f.Truncate(s.start + newSize); err != nil {
		return 0, &ErrIO{Op: "grow VL file", Name: s.f.Name(), Err: err}
	}
	s.size = newSize
	return ptr, nil
}

func findLeftmostFit(n *vlHole, length int64) *vlHole {
	if n == nil {
		return nil
	}
	if left := findLeftmostFit(n.left, length); left != nil {
		return left
	}
	if n.length >= length {
		return n
	}
	return findLeftmostFit(n.right, length)
}

// Deallocate frees [ptr, ptr+length), coalescing with any adjacent hole.
func (s *VLSpace) Deallocate(ptr, length int64) error {
	if length <= 0 {
		return &ErrIllegalArgument{Msg: "non-positive VL deallocation length", Arg: length}
	}
	s.insertHole(ptr, length)
	s.deallocated += length
	return nil
}

// insertHole adds [ptr, ptr+length) to the free tree, first absorbing
// any hole that ends exactly at ptr or starts exactly at ptr+length, so
// the tree never holds two adjacent free intervals. Overlapping holes
// are not detected or merged.
func (s *VLSpace) insertHole(ptr, length int64) {
	for {
		if pred := findByEnd(s.root, ptr); pred != nil {
			s.root = deleteHole(s.root, pred.ptr)
			ptr = pred.ptr
			length += pred.length
			continue
		}
		if succ := findByPtr(s.root, ptr+length); succ != nil {
			s.root = deleteHole(s.root, succ.ptr)
			length += succ.length
			continue
		}
		break
	}
	s.root = insertNode(s.root, &vlHole{ptr: ptr, length: length, priority: rand.Int31()})
}

func findByPtr(n *vlHole, ptr int64) *vlHole {
	for n != nil {
		switch {
		case ptr == n.ptr:
			return n
		case ptr < n.ptr:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil
}

// findByEnd finds a hole whose range ends exactly at end.
func findByEnd(n *vlHole, end int64) *vlHole {
	if n == nil {
		return nil
	}
	if n.ptr+n.length == end {
		return n
	}
	if end <= n.ptr {
		return findByEnd(n.left, end)
	}
	if r := findByEnd(n.left, end); r != nil {
		return r
	}
	return findByEnd(n.right, end)
}

func insertNode(root, node *vlHole) *vlHole {
	if root == nil {
		return node
	}
	if node.ptr < root.ptr {
		root.left = insertNode(root.left, node)
		if root.left.priority > root.priority {
			root = rotateRight(root)
		}
	} else {
		root.right = insertNode(root.right, node)
		if root.right.priority > root.priority {
			root = rotateLeft(root)
		}
	}
	return root
}

func deleteHole(root *vlHole, ptr int64) *vlHole {
	if root == nil {
		return nil
	}
	switch {
	case ptr < root.ptr:
		root.left = deleteHole(root.left, ptr)
		return root
	case ptr > root.ptr:
		root.right = deleteHole(root.right, ptr)
		return root
	default:
		switch {
		case root.left == nil:
			return root.right
		case root.right == nil:
			return root.left
		case root.left.priority > root.right.priority:
			root = rotateRight(root)
			root.right = deleteHole(root.right, ptr)
			return root
		default:
			root = rotateLeft(root)
			root.left = deleteHole(root.left, ptr)
			return root
		}
	}
}

func rotateRight(n *vlHole) *vlHole {
	l := n.left
	n.left = l.right
	l.right = n
	return l
}

func rotateLeft(n *vlHole) *vlHole {
	r := n.right
	n.right = r.left
	r.left = n
	return r
}

// Deallocated returns cumulative reclaimed bytes since the last reset or
// reconciliation.
func (s *VLSpace) Deallocated() int64 { return s.deallocated }

// Size returns the current end of the VL payload region (relative to
// start).
func (s *VLSpace) Size() int64 { return s.size }

// Reset empties the free-hole tree and sets the payload region to
// [start, start+newEnd), used after VL compaction.
func (s *VLSpace) Reset(newEnd int64) {
	s.root = nil
	s.deallocated = 0
	s.size = newEnd
}

// Holes returns every free interval, ascending by ptr, for diagnostics
// and tests.
func (s *VLSpace) Holes() []Interval {
	var out []Interval
	var walk func(*vlHole)
	walk = func(n *vlHole) {
		if n == nil {
			return
		}
		walk(n.left)
		out = append(out, Interval{Ptr: n.ptr, Length: n.length})
		walk(n.right)
	}
	walk(s.root)
	return out
}
