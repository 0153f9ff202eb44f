// Package demux implements Mp4Demuxer: it builds a box tree over an
// MP4 file, extracts per-track sample tables and AVC parameters, and
// exposes a forward iterator over samples.
package demux

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"mp4probe/internal/h264"
	"mp4probe/internal/mp4box"
)

// Kind classifies a track by its hdlr handler_type.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Track is a logical elementary stream populated during Open.
type Track struct {
	TrackID        int
	Kind           Kind
	Timescale      uint32
	SampleCount    int
	SampleSizes    []int64
	SampleOffsets  []int64
	H264           *h264.DecoderConfig // non-nil only for AVC video tracks
	SPSParams      *h264.SPSParams     // derived width/height/profile/level
	FallbackWidth  int                 // avc1 box's own width field, used if SPS parse fails
	FallbackHeight int
}

// Sample is one unit yielded by ReadNextSample.
type Sample struct {
	TrackID   int
	Kind      Kind
	Size      int64
	PTSValue  int64 // sample index within its track
	Timescale uint32
	Bytes     []byte
}

// Error kinds classify every failure mode the demuxer can hit. Kind is
// exported so HTTP and other callers can map it without string matching.
type ErrorKind int

const (
	ErrKindIO ErrorKind = iota
	ErrKindMalformedHeader
	ErrKindMalformedTable
	ErrKindMissingBox
	ErrKindUnsupportedProfile
	ErrKindBadSample
	ErrKindNotFound
)

// Error wraps one of the taxonomy kinds with context, using
// github.com/pkg/errors for stack-carrying wraps the way the SPS
// parser in the broader example pack does.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Demuxer owns the file handle, the box tree (freed after Open), and
// the per-track sample tables. It is not safe for concurrent use.
type Demuxer struct {
	r      io.ReaderAt
	closer io.Closer

	Tracks []*Track

	trackCursor  int
	sampleCursor int
}

// Open scans r (size fileSize) into a box tree, populates per-track
// sample tables, and returns a ready-to-iterate Demuxer. closer, if
// non-nil, is invoked by Close.
func Open(r io.ReaderAt, fileSize int64, closer io.Closer) (*Demuxer, error) {
	tree, err := mp4box.Scan(r, fileSize)
	if err != nil {
		return nil, newError(ErrKindMalformedHeader, err)
	}

	moovIdx := tree.FindByType(tree.Root(), mp4box.TypeMoov)
	if moovIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing moov box"))
	}

	d := &Demuxer{r: r, closer: closer}

	trakIdx := tree.FindByType(moovIdx, mp4box.TypeTrak)
	trackID := 0
	for trakIdx != -1 {
		trackID++
		track, err := parseTrack(tree, r, trakIdx, trackID)
		if err != nil {
			return nil, err
		}
		d.Tracks = append(d.Tracks, track)
		trakIdx = tree.FindNextByType(trakIdx, mp4box.TypeTrak)
	}

	if len(d.Tracks) == 0 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: no trak boxes under moov"))
	}

	return d, nil
}

func parseTrack(tree *mp4box.Tree, r io.ReaderAt, trakIdx, trackID int) (*Track, error) {
	mdiaIdx := tree.FindByType(trakIdx, mp4box.TypeMdia)
	if mdiaIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing mdia box"))
	}

	hdlrIdx := tree.FindByType(mdiaIdx, mp4box.TypeHdlr)
	if hdlrIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing hdlr box"))
	}
	kind, err := readHandlerType(r, tree.Node(hdlrIdx))
	if err != nil {
		return nil, err
	}

	mdhdIdx := tree.FindByType(mdiaIdx, mp4box.TypeMdhd)
	if mdhdIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing mdhd box"))
	}
	timescale, err := readTimescale(r, tree.Node(mdhdIdx))
	if err != nil {
		return nil, err
	}

	track := &Track{TrackID: trackID, Kind: kind, Timescale: timescale}

	stblIdx := tree.FindByType(mdiaIdx, mp4box.TypeStbl)
	if stblIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing stbl box"))
	}

	if kind == KindVideo {
		if err := populateVideoParams(tree, r, stblIdx, track); err != nil {
			return nil, err
		}
	}

	stszIdx := tree.FindByType(stblIdx, mp4box.TypeStsz)
	if stszIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing stsz box"))
	}
	sizes, err := readStsz(r, tree.Node(stszIdx))
	if err != nil {
		return nil, err
	}
	track.SampleSizes = sizes
	track.SampleCount = len(sizes)

	stcoIdx := tree.FindByType(stblIdx, mp4box.TypeStco)
	if stcoIdx == -1 {
		return nil, newError(ErrKindMissingBox, errors.New("demux: missing stco box"))
	}
	offsets, err := readStco(r, tree.Node(stcoIdx))
	if err != nil {
		return nil, err
	}
	if len(offsets) != track.SampleCount {
		return nil, newError(ErrKindMalformedTable, errors.Errorf(
			"demux: stco.entry_count(%d) != stsz.sample_count(%d)", len(offsets), track.SampleCount))
	}
	track.SampleOffsets = offsets

	return track, nil
}

// populateVideoParams descends stsd -> avc1 -> avcC and reads the
// avc1 box's own width/height fields as a fallback for when no SPS is
// available. Per Open Question Decision #1, only the avc1 sample-entry
// FourCC is recursed into; any other sample entry surfaces
// UnsupportedProfile.
func populateVideoParams(tree *mp4box.Tree, r io.ReaderAt, stblIdx int, track *Track) error {
	stsdIdx := tree.FindByType(stblIdx, mp4box.TypeStsd)
	if stsdIdx == -1 {
		return newError(ErrKindMissingBox, errors.New("demux: missing stsd box"))
	}
	avc1Idx := tree.FindByType(stsdIdx, mp4box.TypeAvc1)
	if avc1Idx == -1 {
		return newError(ErrKindUnsupportedProfile, errors.New("demux: video track has no avc1 sample entry"))
	}
	avc1 := tree.Node(avc1Idx)

	w, h, err := readAvc1Dimensions(r, avc1)
	if err != nil {
		return err
	}
	track.FallbackWidth = w
	track.FallbackHeight = h

	avcCIdx := tree.FindByType(avc1Idx, mp4box.TypeAvcC)
	if avcCIdx == -1 {
		return newError(ErrKindMissingBox, errors.New("demux: missing avcC box"))
	}
	avcC := tree.Node(avcCIdx)
	payload, err := readBytes(r, avcC.PayloadOffset(), avcC.PayloadSize())
	if err != nil {
		return newError(ErrKindIO, err)
	}
	cfg, err := h264.ParseAVCDecoderConfigurationRecord(payload)
	if err != nil {
		return newError(ErrKindMalformedTable, err)
	}
	track.H264 = cfg

	if len(cfg.SPS) > 0 {
		if params, err := h264.ParseSPS(cfg.SPS); err == nil {
			track.SPSParams = params
		}
		// A failed SPS parse is not fatal: the avc1 box's own
		// width/height fields are the documented fallback.
	}

	return nil
}

// readHandlerType reads handler_type at hdlr payload offset +8
// (version(1)+flags(3)+pre_defined(4)).
func readHandlerType(r io.ReaderAt, hdlr mp4box.Box) (Kind, error) {
	buf, err := readBytes(r, hdlr.PayloadOffset()+8, 4)
	if err != nil {
		return KindUnknown, newError(ErrKindIO, err)
	}
	switch string(buf) {
	case "vide":
		return KindVideo, nil
	case "soun":
		return KindAudio, nil
	default:
		return KindUnknown, nil
	}
}

// readTimescale reads mdhd.timescale, branching on the version byte
// per Open Question Decision #4 (v0: u32 @ +12, v1: u32 @ +20).
func readTimescale(r io.ReaderAt, mdhd mp4box.Box) (uint32, error) {
	versionBuf, err := readBytes(r, mdhd.PayloadOffset(), 1)
	if err != nil {
		return 0, newError(ErrKindIO, err)
	}
	version := versionBuf[0]

	var tsOffset int64
	switch version {
	case 0:
		tsOffset = 12
	case 1:
		tsOffset = 20
	default:
		return 0, newError(ErrKindMalformedHeader, errors.Errorf("demux: unsupported mdhd version %d", version))
	}

	buf, err := readBytes(r, mdhd.PayloadOffset()+tsOffset, 4)
	if err != nil {
		return 0, newError(ErrKindIO, err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

// readAvc1Dimensions reads the u16 width/height fields at +24 within
// the avc1 sample entry payload.
func readAvc1Dimensions(r io.ReaderAt, avc1 mp4box.Box) (int, int, error) {
	buf, err := readBytes(r, avc1.PayloadOffset()+24, 4)
	if err != nil {
		return 0, 0, newError(ErrKindIO, err)
	}
	w := binary.BigEndian.Uint16(buf[0:2])
	h := binary.BigEndian.Uint16(buf[2:4])
	return int(w), int(h), nil
}

// readStsz parses the stsz payload, returning either a uniform
// sample-size table (fixed sampleSize) or per-sample sizes read from
// the table that follows it.
func readStsz(r io.ReaderAt, stsz mp4box.Box) ([]int64, error) {
	hdr, err := readBytes(r, stsz.PayloadOffset(), 12)
	if err != nil {
		return nil, newError(ErrKindIO, err)
	}
	sampleSize := binary.BigEndian.Uint32(hdr[4:8])
	sampleCount := binary.BigEndian.Uint32(hdr[8:12])

	if sampleSize != 0 {
		sizes := make([]int64, sampleCount)
		for i := range sizes {
			sizes[i] = int64(sampleSize)
		}
		return sizes, nil
	}

	tableBytes, err := readBytes(r, stsz.PayloadOffset()+12, int64(sampleCount)*4)
	if err != nil {
		return nil, newError(ErrKindIO, err)
	}
	sizes := make([]int64, sampleCount)
	for i := range sizes {
		sizes[i] = int64(binary.BigEndian.Uint32(tableBytes[i*4 : i*4+4]))
	}
	return sizes, nil
}

// readStco parses the stco payload (32-bit chunk offsets only; co64 is
// explicitly out of scope).
func readStco(r io.ReaderAt, stco mp4box.Box) ([]int64, error) {
	hdr, err := readBytes(r, stco.PayloadOffset(), 8)
	if err != nil {
		return nil, newError(ErrKindIO, err)
	}
	entryCount := binary.BigEndian.Uint32(hdr[4:8])

	tableBytes, err := readBytes(r, stco.PayloadOffset()+8, int64(entryCount)*4)
	if err != nil {
		return nil, newError(ErrKindIO, err)
	}
	offsets := make([]int64, entryCount)
	for i := range offsets {
		offsets[i] = int64(binary.BigEndian.Uint32(tableBytes[i*4 : i*4+4]))
	}
	return offsets, nil
}

func readBytes(r io.ReaderAt, offset, size int64) ([]byte, error) {
	if size < 0 {
		return nil, errors.Errorf("demux: negative read size %d", size)
	}
	buf := make([]byte, size)
	n, err := r.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && int64(n) == size) {
		return nil, errors.Wrapf(err, "read %d bytes at %d", size, offset)
	}
	return buf, nil
}

// ReadNextSample walks the tracks in order, maintaining
// (trackCursor, sampleCursor): it returns io.EOF once every track is
// exhausted, and never advances sampleCursor on an I/O failure.
func (d *Demuxer) ReadNextSample() (*Sample, error) {
	for d.trackCursor < len(d.Tracks) && d.sampleCursor >= d.Tracks[d.trackCursor].SampleCount {
		d.trackCursor++
		d.sampleCursor = 0
	}
	if d.trackCursor >= len(d.Tracks) {
		return nil, io.EOF
	}

	track := d.Tracks[d.trackCursor]
	offset := track.SampleOffsets[d.sampleCursor]
	size := track.SampleSizes[d.sampleCursor]

	buf := make([]byte, size)
	n, err := d.r.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && int64(n) == size) {
		return nil, newError(ErrKindIO, errors.Wrapf(err, "read sample track=%d index=%d", track.TrackID, d.sampleCursor))
	}

	sample := &Sample{
		TrackID:   track.TrackID,
		Kind:      track.Kind,
		Size:      size,
		PTSValue:  int64(d.sampleCursor),
		Timescale: track.Timescale,
		Bytes:     buf,
	}
	d.sampleCursor++
	return sample, nil
}

// Close releases the underlying file handle, if any.
func (d *Demuxer) Close() error {
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}
