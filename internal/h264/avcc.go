// Package h264 parses the AVCC decoder configuration record and the
// H.264 SPS NAL unit, and provides AVCC sample helpers used by the
// demuxer.
package h264

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// maxParameterSetSize bounds SPS/PPS length per the AVCC record
// validation rule: reject length == 0 or length > 1024.
const maxParameterSetSize = 1024

// ErrTruncated is returned when the avcC payload ends before a field
// it declares can be read.
var ErrTruncated = errors.New("h264: avcC payload truncated")

// ErrBadParameterSetSize is returned when a declared SPS/PPS length is
// zero or exceeds maxParameterSetSize.
var ErrBadParameterSetSize = errors.New("h264: parameter set size out of range")

// ErrBadConfigurationVersion is returned when configurationVersion is
// not 1.
var ErrBadConfigurationVersion = errors.New("h264: unsupported avcC configurationVersion")

// DecoderConfig is the result of parsing an avcC payload: NAL-length
// field size plus the first stored SPS and PPS (higher-index parameter
// sets, if any, are ignored per the core's contract).
type DecoderConfig struct {
	ConfigurationVersion uint8
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	NALLengthSize         int // 1, 2, or 4
	SPS                   []byte
	PPS                   []byte
}

// ParseAVCDecoderConfigurationRecord parses the payload of an avcC box
// (the box header already stripped) per the fixed-position layout in
// ISO/IEC 14496-15. Only the first SPS and first PPS are retained.
func ParseAVCDecoderConfigurationRecord(data []byte) (*DecoderConfig, error) {
	if len(data) < 6 {
		return nil, errors.Wrap(ErrTruncated, "avcC header")
	}

	cfg := &DecoderConfig{
		ConfigurationVersion: data[0],
		ProfileIndication:    data[1],
		ProfileCompatibility: data[2],
		LevelIndication:      data[3],
	}
	if cfg.ConfigurationVersion != 1 {
		return nil, errors.Wrapf(ErrBadConfigurationVersion, "version=%d", cfg.ConfigurationVersion)
	}
	cfg.NALLengthSize = int(data[4]&0x03) + 1
	if cfg.NALLengthSize == 3 {
		return nil, errors.Errorf("h264: unsupported NAL length size %d", cfg.NALLengthSize)
	}

	numSPS := int(data[5] & 0x1F)
	offset := 6

	readParamSet := func() ([]byte, error) {
		if offset+2 > len(data) {
			return nil, errors.Wrap(ErrTruncated, "parameter set length")
		}
		size := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if size == 0 || size > maxParameterSetSize {
			return nil, errors.Wrapf(ErrBadParameterSetSize, "size=%d", size)
		}
		if offset+size > len(data) {
			return nil, errors.Wrap(ErrTruncated, "parameter set data")
		}
		buf := make([]byte, size)
		copy(buf, data[offset:offset+size])
		offset += size
		return buf, nil
	}

	for i := 0; i < numSPS; i++ {
		sps, err := readParamSet()
		if err != nil {
			return nil, err
		}
		if cfg.SPS == nil {
			cfg.SPS = sps
		}
	}

	if offset+1 > len(data) {
		return nil, errors.Wrap(ErrTruncated, "numOfPictureParameterSets")
	}
	numPPS := int(data[offset])
	offset++

	for i := 0; i < numPPS; i++ {
		pps, err := readParamSet()
		if err != nil {
			return nil, err
		}
		if cfg.PPS == nil {
			cfg.PPS = pps
		}
	}

	return cfg, nil
}
