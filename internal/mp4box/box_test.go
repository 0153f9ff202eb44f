package mp4box

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanSizeZeroExtendsToEOF(t *testing.T) {
	// size==0 at top level: box extends to EOF; accepted.
	buf := make([]byte, 8)
	copy(buf[4:8], "free")
	r := bytes.NewReader(buf)

	tree, err := Scan(r, int64(len(buf)))
	require.NoError(t, err)
	root := tree.Node(tree.Root())
	require.Len(t, root.Children, 1)
	child := tree.Node(root.Children[0])
	require.Equal(t, int64(8), child.Size)
}

func TestScanLargesizeWithOnlyHeaderRemainingFails(t *testing.T) {
	// size==1 with only the 8-byte base header remaining (no room for
	// the 8-byte largesize extension) -> MalformedHeader.
	buf := make([]byte, 8)
	buf[3] = 1
	copy(buf[4:8], "mdat")
	r := bytes.NewReader(buf)

	_, err := Scan(r, int64(len(buf)))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestScanTruncatedHeaderFails(t *testing.T) {
	buf := []byte{0x00, 0x00, 0x00}
	r := bytes.NewReader(buf)
	_, err := Scan(r, int64(len(buf)))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestScanRejectsEscapingParent(t *testing.T) {
	// Declared size exceeds the file/parent bound.
	buf := make([]byte, 8)
	buf[3] = 100 // size = 100, way past the 8-byte file
	copy(buf[4:8], "free")
	r := bytes.NewReader(buf)

	_, err := Scan(r, int64(len(buf)))
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestFindByTypeAndFindNextByType(t *testing.T) {
	free1 := buildLeafBox("free")
	free2 := buildLeafBox("skip")
	free3 := buildLeafBox("free")
	var buf bytes.Buffer
	buf.Write(free1)
	buf.Write(free2)
	buf.Write(free3)
	data := buf.Bytes()

	r := bytes.NewReader(data)
	tree, err := Scan(r, int64(len(data)))
	require.NoError(t, err)

	first := tree.FindByType(tree.Root(), mustFourCC("free"))
	require.NotEqual(t, -1, first)
	require.Equal(t, int64(0), tree.Node(first).Offset)

	next := tree.FindNextByType(first, mustFourCC("free"))
	require.NotEqual(t, -1, next)
	require.Equal(t, int64(16), tree.Node(next).Offset)
}

func buildLeafBox(fourcc string) []byte {
	buf := make([]byte, 8)
	buf[3] = 8
	copy(buf[4:8], fourcc)
	return buf
}
