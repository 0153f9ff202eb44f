package demux

import (
	"bytes"
	"encoding/binary"
)

// buildBox packs a box as size(u32 BE) + fourcc + payload.
func buildBox(fourcc string, payload []byte) []byte {
	if len(fourcc) != 4 {
		panic("fourcc must be 4 bytes")
	}
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload)))
	copy(buf[4:8], fourcc)
	copy(buf[8:], payload)
	return buf
}

func u16be(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// synthMP4Opts configures buildSynthMP4.
type synthMP4Opts struct {
	sampleSize       uint32 // stsz fixed sample size (0 disables fixed-size mode)
	sampleSizes      []uint32
	sampleCount      uint32 // only used when sampleSizes is nil and sampleSize != 0
	chunkOffsets     []uint32
	timescale        uint32
	spsWidthMBs      uint32 // pic_width_in_mbs_minus1, only used if includeSPS
	spsHeightUnits   uint32
	includeSPS       bool
	fileSize         int64 // pad file to at least this size
}

// buildMinimalSPS builds a tiny H.264 SPS NAL (profile 66, no chroma
// info block) encoding the given width/height MB parameters, with
// frame_mbs_only_flag=1.
func buildMinimalSPS(widthMBsMinus1, heightMapUnitsMinus1 uint32) []byte {
	w := &testBitWriter{}
	w.writeBits(0x67, 8) // NAL header
	w.writeBits(66, 8)   // profile_idc = 66 (baseline, no chroma info block)
	w.writeBits(0, 8)    // constraint flags + reserved
	w.writeBits(0x1E, 8) // level_idc
	w.writeUE(0)         // seq_parameter_set_id
	w.writeUE(0)         // log2_max_frame_num_minus4
	w.writeUE(0)         // pic_order_cnt_type
	w.writeUE(0)         // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(0)         // max_num_ref_frames
	w.writeBits(0, 1)    // gaps_in_frame_num_value_allowed_flag
	w.writeUE(widthMBsMinus1)
	w.writeUE(heightMapUnitsMinus1)
	w.writeBits(1, 1) // frame_mbs_only_flag
	w.writeBits(1, 1) // padding
	return w.bytes()
}

// buildSynthMP4 builds a single-video-track MP4 with the box layout
// ftyp + moov{trak{mdia{hdlr,mdhd,minf{stbl{stsd{avc1{avcC}},stsz,stco}}}}}.
func buildSynthMP4(opts synthMP4Opts) []byte {
	sps := []byte{}
	if opts.includeSPS {
		sps = buildMinimalSPS(opts.spsWidthMBs, opts.spsHeightUnits)
	} else {
		sps = buildMinimalSPS(0, 0) // 16x16 minimal
	}
	pps := []byte{0x68, 0x00}

	avccPayload := []byte{
		1, 0x4D, 0x00, 0x1E, // version, profile, compat, level
		0xFF,       // reserved|lengthSizeMinusOne=3 -> L=4
		0xE1,       // reserved|numSPS=1
	}
	avccPayload = append(avccPayload, u16be(uint16(len(sps)))...)
	avccPayload = append(avccPayload, sps...)
	avccPayload = append(avccPayload, 1) // numPPS
	avccPayload = append(avccPayload, u16be(uint16(len(pps)))...)
	avccPayload = append(avccPayload, pps...)
	avcC := buildBox("avcC", avccPayload)

	avc1Fixed := make([]byte, 78)
	binary.BigEndian.PutUint16(avc1Fixed[24:26], 16) // fallback width
	binary.BigEndian.PutUint16(avc1Fixed[26:28], 16) // fallback height
	avc1Payload := append(avc1Fixed, avcC...)
	avc1 := buildBox("avc1", avc1Payload)

	stsdPayload := append([]byte{0, 0, 0, 0}, u32be(1)...)
	stsdPayload = append(stsdPayload, avc1...)
	stsd := buildBox("stsd", stsdPayload)

	var stszPayload []byte
	if opts.sampleSizes != nil {
		stszPayload = append([]byte{0, 0, 0, 0}, u32be(0)...)
		stszPayload = append(stszPayload, u32be(uint32(len(opts.sampleSizes)))...)
		for _, s := range opts.sampleSizes {
			stszPayload = append(stszPayload, u32be(s)...)
		}
	} else {
		stszPayload = append([]byte{0, 0, 0, 0}, u32be(opts.sampleSize)...)
		stszPayload = append(stszPayload, u32be(opts.sampleCount)...)
	}
	stsz := buildBox("stsz", stszPayload)

	stcoPayload := append([]byte{0, 0, 0, 0}, u32be(uint32(len(opts.chunkOffsets)))...)
	for _, off := range opts.chunkOffsets {
		stcoPayload = append(stcoPayload, u32be(off)...)
	}
	stco := buildBox("stco", stcoPayload)

	stblPayload := append([]byte{}, stsd...)
	stblPayload = append(stblPayload, stsz...)
	stblPayload = append(stblPayload, stco...)
	stbl := buildBox("stbl", stblPayload)

	minf := buildBox("minf", stbl)

	hdlrPayload := append([]byte{0, 0, 0, 0}, []byte{0, 0, 0, 0}...)
	hdlrPayload = append(hdlrPayload, []byte("vide")...)
	hdlr := buildBox("hdlr", hdlrPayload)

	mdhdPayload := make([]byte, 24)
	mdhdPayload[0] = 0 // version 0
	binary.BigEndian.PutUint32(mdhdPayload[12:16], opts.timescale)
	mdhd := buildBox("mdhd", mdhdPayload)

	mdiaPayload := append([]byte{}, mdhd...)
	mdiaPayload = append(mdiaPayload, hdlr...)
	mdiaPayload = append(mdiaPayload, minf...)
	mdia := buildBox("mdia", mdiaPayload)

	trak := buildBox("trak", mdia)
	moov := buildBox("moov", trak)
	ftyp := buildBox("ftyp", nil)

	var buf bytes.Buffer
	buf.Write(ftyp)
	buf.Write(moov)

	out := buf.Bytes()
	if int64(len(out)) < opts.fileSize {
		padded := make([]byte, opts.fileSize)
		copy(padded, out)
		out = padded
	}
	return out
}

// testBitWriter is a minimal MSB-first bit writer used only to
// synthesize SPS test fixtures.
type testBitWriter struct {
	buf    []byte
	bitPos int
}

func (w *testBitWriter) ensure(n int) {
	for w.bitPos+n > len(w.buf)*8 {
		w.buf = append(w.buf, 0)
	}
}

func (w *testBitWriter) writeBit(b uint32) {
	w.ensure(1)
	if b != 0 {
		byteIdx := w.bitPos / 8
		shift := 7 - uint(w.bitPos%8)
		w.buf[byteIdx] |= 1 << shift
	}
	w.bitPos++
}

func (w *testBitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> uint(i)) & 1)
	}
}

func (w *testBitWriter) writeUE(v uint32) {
	v++
	nbits := 0
	for tmp := v; tmp > 1; tmp >>= 1 {
		nbits++
	}
	for i := 0; i < nbits; i++ {
		w.writeBit(0)
	}
	w.writeBits(v, nbits+1)
}

func (w *testBitWriter) bytes() []byte {
	return w.buf
}
