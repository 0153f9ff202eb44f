package h264

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildAVCC builds a minimal, well-formed avcC payload with one SPS
// and one PPS, length-size = 4 (lengthSizeMinusOne = 3).
func buildAVCC(sps, pps []byte) []byte {
	buf := []byte{
		1,          // configurationVersion
		0x64,       // AVCProfileIndication
		0x00,       // profile_compatibility
		0x1F,       // AVCLevelIndication
		0xFC | 0x03, // reserved(6)=111111 | lengthSizeMinusOne(2)=11 -> L=4
		0xE0 | 0x01, // reserved(3)=111 | numOfSPS(5)=00001
	}
	spsLen := make([]byte, 2)
	binary.BigEndian.PutUint16(spsLen, uint16(len(sps)))
	buf = append(buf, spsLen...)
	buf = append(buf, sps...)
	buf = append(buf, 1) // numOfPPS
	ppsLen := make([]byte, 2)
	binary.BigEndian.PutUint16(ppsLen, uint16(len(pps)))
	buf = append(buf, ppsLen...)
	buf = append(buf, pps...)
	return buf
}

func TestParseAVCDecoderConfigurationRecord(t *testing.T) {
	// L=4, 12-byte SPS starting 0x67, 4-byte PPS starting 0x68.
	sps := append([]byte{0x67}, make([]byte, 11)...)
	pps := []byte{0x68, 0x01, 0x02, 0x03}

	raw := buildAVCC(sps, pps)
	cfg, err := ParseAVCDecoderConfigurationRecord(raw)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.NALLengthSize)
	require.Equal(t, sps, cfg.SPS)
	require.Equal(t, pps, cfg.PPS)
}

func TestParseAVCDecoderConfigurationRecordBadSize(t *testing.T) {
	raw := buildAVCC(make([]byte, 0), []byte{0x68})
	// Overwrite SPS length field with 0 to trigger ErrBadParameterSetSize.
	raw[6] = 0
	raw[7] = 0
	_, err := ParseAVCDecoderConfigurationRecord(raw)
	require.ErrorIs(t, err, ErrBadParameterSetSize)
}

func buildSPS(profileIDC uint8, widthMBsMinus1, heightMapUnitsMinus1 uint32, frameMBSOnly uint32) []byte {
	w := &bitWriter{}
	w.writeBits(0x67, 8) // NAL header: forbidden=0, ref_idc=11, type=00111
	w.writeBits(uint32(profileIDC), 8)
	w.writeBits(0, 8) // constraint flags + reserved
	w.writeBits(0x1F, 8)
	w.writeUE(0) // seq_parameter_set_id
	if profileIDCsWithChromaInfo[profileIDC] {
		w.writeUE(1) // chroma_format_idc = 1 (4:2:0)
		w.writeUE(0) // bit_depth_luma_minus8
		w.writeUE(0) // bit_depth_chroma_minus8
		w.writeBits(0, 1) // qpprime flag
		w.writeBits(0, 1) // seq_scaling_matrix_present_flag = 0
	}
	w.writeUE(0)          // log2_max_frame_num_minus4
	w.writeUE(0)          // pic_order_cnt_type = 0
	w.writeUE(0)          // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(0)          // max_num_ref_frames
	w.writeBits(0, 1)     // gaps_in_frame_num_value_allowed_flag
	w.writeUE(widthMBsMinus1)
	w.writeUE(heightMapUnitsMinus1)
	w.writeBits(frameMBSOnly, 1)
	if frameMBSOnly == 0 {
		w.writeBits(0, 1)
	}
	w.writeBits(1, 1) // padding bit so final byte isn't empty
	return w.bytes()
}

func TestParseSPSDerivesDimensions(t *testing.T) {
	// profile_idc=66, width_mbs_minus1=39, height_map_units_minus1=29, frame_mbs_only=1.
	nal := buildSPS(66, 39, 29, 1)
	params, err := ParseSPS(nal)
	require.NoError(t, err)
	require.Equal(t, 640, params.Width)
	require.Equal(t, 480, params.Height)
}

func TestParseSPSMinimal16x16(t *testing.T) {
	nal := buildSPS(66, 0, 0, 1)
	params, err := ParseSPS(nal)
	require.NoError(t, err)
	require.Equal(t, 16, params.Width)
	require.Equal(t, 16, params.Height)
}

func TestValidateAVCCSampleAccepts(t *testing.T) {
	sample := []byte{0x00, 0x00, 0x00, 0x04, 0x65, 0xAA, 0xBB, 0xCC}
	nals, err := ValidateAVCCSample(sample, 4)
	require.NoError(t, err)
	require.Len(t, nals, 1)
	require.Equal(t, byte(NALTypeIDR), nals[0].Type)
}

func TestValidateAVCCSampleRejectsOverrun(t *testing.T) {
	sample := []byte{0x00, 0x00, 0x00, 0xFF, 0x65, 0xAA}
	_, err := ValidateAVCCSample(sample, 4)
	require.ErrorIs(t, err, ErrBadSample)
}

// bitWriter is a small MSB-first bit writer used only to synthesize
// SPS test fixtures; it is the mirror-image of bitreader.Reader.
type bitWriter struct {
	buf    []byte
	bitPos int
}

func (w *bitWriter) ensure(n int) {
	for w.bitPos+n > len(w.buf)*8 {
		w.buf = append(w.buf, 0)
	}
}

func (w *bitWriter) writeBit(b uint32) {
	w.ensure(1)
	if b != 0 {
		byteIdx := w.bitPos / 8
		shift := 7 - uint(w.bitPos%8)
		w.buf[byteIdx] |= 1 << shift
	}
	w.bitPos++
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> uint(i)) & 1)
	}
}

func (w *bitWriter) writeUE(v uint32) {
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

func (w *bitWriter) bytes() []byte {
	return w.buf
}
