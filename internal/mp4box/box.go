// Package mp4box scans an ISO-BMFF byte range into an arena-indexed
// tree of boxes without reading any box's full payload — only headers
// are parsed during the scan; payloads are read on demand by callers
// that already know the exact offsets they need (the demuxer, the
// avcC/SPS parsers).
package mp4box

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// FourCC is a 4-byte ISO-BMFF box type tag treated as an opaque u32.
type FourCC uint32

func fourCC(b []byte) FourCC {
	return FourCC(binary.BigEndian.Uint32(b))
}

func (f FourCC) String() string {
	return string([]byte{byte(f >> 24), byte(f >> 16), byte(f >> 8), byte(f)})
}

var (
	TypeFtyp FourCC = mustFourCC("ftyp")
	TypeMoov FourCC = mustFourCC("moov")
	TypeTrak FourCC = mustFourCC("trak")
	TypeMdia FourCC = mustFourCC("mdia")
	TypeMinf FourCC = mustFourCC("minf")
	TypeStbl FourCC = mustFourCC("stbl")
	TypeStsd FourCC = mustFourCC("stsd")
	TypeHdlr FourCC = mustFourCC("hdlr")
	TypeMdhd FourCC = mustFourCC("mdhd")
	TypeAvc1 FourCC = mustFourCC("avc1")
	TypeAvcC FourCC = mustFourCC("avcC")
	TypeStsz FourCC = mustFourCC("stsz")
	TypeStco FourCC = mustFourCC("stco")
)

func mustFourCC(s string) FourCC {
	if len(s) != 4 {
		panic("mp4box: fourcc must be 4 bytes")
	}
	return fourCC([]byte(s))
}

// knownContainers recurse into their payload during the tree scan.
var knownContainers = map[FourCC]bool{
	TypeMoov: true,
	TypeTrak: true,
	TypeMdia: true,
	TypeMinf: true,
	TypeStbl: true,
	TypeStsd: true,
}

// maxSiblingBoxes bounds the number of boxes scanned at any one level,
// defending against pathological inputs.
const maxSiblingBoxes = 1000

// Box is a node in the arena. Children are stored as indices into the
// owning Tree's node slice, not pointers, per the spec's preference
// for an arena over pointer-chasing.
type Box struct {
	Type         FourCC
	Offset       int64 // absolute file offset of the box's first byte
	Size         int64 // total size including header
	HeaderLength int64 // 8 or 16
	Parent       int   // index into Tree.nodes, -1 for the synthetic root
	Children     []int // indices into Tree.nodes, in file order
}

// PayloadOffset returns the absolute file offset of this box's first
// payload byte.
func (b Box) PayloadOffset() int64 { return b.Offset + b.HeaderLength }

// PayloadSize returns the number of payload bytes (Size minus header).
func (b Box) PayloadSize() int64 { return b.Size - b.HeaderLength }

// End returns the absolute file offset one past this box's last byte.
func (b Box) End() int64 { return b.Offset + b.Size }

// Tree is the arena holding every Box scanned from a file (or
// subrange). Index 0 is always the synthetic root whose children are
// the top-level boxes.
type Tree struct {
	nodes []Box
}

// Root returns the synthetic root box index (always 0).
func (t *Tree) Root() int { return 0 }

// Node returns the box at index idx.
func (t *Tree) Node(idx int) Box { return t.nodes[idx] }

// Scan builds a Tree by reading box headers from r, starting at
// offset 0 and ending at fileSize, recursing into known container
// types.
func Scan(r io.ReaderAt, fileSize int64) (*Tree, error) {
	t := &Tree{nodes: []Box{{Type: 0, Offset: 0, Size: fileSize, Parent: -1}}}
	if err := scanChildren(t, r, t.Root(), 0, fileSize); err != nil {
		return nil, err
	}
	return t, nil
}

// scanChildren parses sibling box headers in [start, parentEnd) and
// attaches them as children of the box at parentIdx, recursing into
// known containers (and the special avc1/stsd payload-offset rules).
func scanChildren(t *Tree, r io.ReaderAt, parentIdx int, start, parentEnd int64) error {
	offset := start
	count := 0
	for offset < parentEnd {
		if count >= maxSiblingBoxes {
			return errors.Errorf("mp4box: more than %d boxes at offset %d", maxSiblingBoxes, offset)
		}
		box, err := parseHeader(r, offset, parentEnd)
		if err != nil {
			return err
		}
		idx := len(t.nodes)
		box.Parent = parentIdx
		t.nodes = append(t.nodes, box)
		t.nodes[parentIdx].Children = append(t.nodes[parentIdx].Children, idx)

		if err := maybeRecurse(t, r, idx); err != nil {
			return err
		}

		offset = box.End()
		count++
	}
	return nil
}

// maybeRecurse recurses into a box's payload if its type is a known
// container, applying the special stsd/avc1 child-offset rules.
func maybeRecurse(t *Tree, r io.ReaderAt, idx int) error {
	box := t.nodes[idx]
	switch {
	case box.Type == TypeStsd:
		// version(1)+flags(3)+entry_count(4) precede sample description entries.
		childStart := box.PayloadOffset() + 8
		return scanChildren(t, r, idx, childStart, box.End())
	case box.Type == TypeAvc1:
		// avc1 sample entry: 78 bytes of fixed fields precede nested boxes.
		childStart := box.PayloadOffset() + 78
		return scanChildren(t, r, idx, childStart, box.End())
	case knownContainers[box.Type]:
		return scanChildren(t, r, idx, box.PayloadOffset(), box.End())
	default:
		return nil
	}
}

// parseHeader reads one box header at offset, validating it against
// parentEnd.
func parseHeader(r io.ReaderAt, offset, parentEnd int64) (Box, error) {
	var hdr [8]byte
	n, err := r.ReadAt(hdr[:], offset)
	if err != nil && !(err == io.EOF && n == 8) {
		return Box{}, errors.Wrapf(ErrMalformedHeader, "truncated box header at %d: %v", offset, err)
	}
	size32 := binary.BigEndian.Uint32(hdr[0:4])
	boxType := fourCC(hdr[4:8])

	headerLen := int64(8)
	var size int64
	switch size32 {
	case 1:
		var ext [8]byte
		if _, err := r.ReadAt(ext[:], offset+8); err != nil {
			return Box{}, errors.Wrapf(ErrMalformedHeader, "truncated largesize at %d: %v", offset, err)
		}
		size = int64(binary.BigEndian.Uint64(ext[:]))
		headerLen = 16
	case 0:
		size = parentEnd - offset
	default:
		size = int64(size32)
	}

	minSize := int64(8)
	if headerLen == 16 {
		minSize = 16
	}
	if size < minSize {
		return Box{}, errors.Wrapf(ErrMalformedHeader, "box %s at %d has impossible size %d", boxType, offset, size)
	}
	if offset+size > parentEnd {
		return Box{}, errors.Wrapf(ErrMalformedHeader, "box %s at %d escapes parent end %d", boxType, offset, parentEnd)
	}

	return Box{Type: boxType, Offset: offset, Size: size, HeaderLength: headerLen}, nil
}

// FindByType returns the index of the first box of the given type in
// pre-order starting at (and including) root, or -1 if absent.
func (t *Tree) FindByType(root int, fourcc FourCC) int {
	b := t.nodes[root]
	if root != t.Root() && b.Type == fourcc {
		return root
	}
	for _, child := range b.Children {
		if found := t.findByTypePreorder(child, fourcc); found != -1 {
			return found
		}
	}
	return -1
}

func (t *Tree) findByTypePreorder(idx int, fourcc FourCC) int {
	b := t.nodes[idx]
	if b.Type == fourcc {
		return idx
	}
	for _, child := range b.Children {
		if found := t.findByTypePreorder(child, fourcc); found != -1 {
			return found
		}
	}
	return -1
}

// FindNextByType returns the next box of the given type after current
// in document (pre-order) order, scanning the whole tree; or -1 if
// none remains. Used to iterate sibling trak boxes.
func (t *Tree) FindNextByType(current int, fourcc FourCC) int {
	order := t.preorder(t.Root())
	passed := false
	for _, idx := range order {
		if idx == current {
			passed = true
			continue
		}
		if passed && t.nodes[idx].Type == fourcc {
			return idx
		}
	}
	return -1
}

func (t *Tree) preorder(idx int) []int {
	var out []int
	if idx != t.Root() {
		out = append(out, idx)
	}
	for _, c := range t.nodes[idx].Children {
		out = append(out, t.preorder(c)...)
	}
	return out
}

// Children returns the child indices of the box at idx, in file order.
func (t *Tree) Children(idx int) []int {
	return t.nodes[idx].Children
}

// ErrMalformedHeader is wrapped with context by parseHeader whenever a
// box header is truncated, has an impossible size, or escapes its
// parent's bounds.
var ErrMalformedHeader = errors.New("mp4box: malformed box header")
