package h264

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// NAL unit types recognised during AVCC sample validation.
const (
	NALTypeSliceNonIDR = 1
	NALTypeIDR         = 5
	NALTypeSEI         = 6
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeAUD         = 9
)

var recognizedNALTypes = map[byte]bool{
	NALTypeSliceNonIDR: true,
	NALTypeIDR:         true,
	NALTypeSEI:         true,
	NALTypeSPS:         true,
	NALTypePPS:         true,
	NALTypeAUD:         true,
}

// ErrBadSample is returned by ValidateAVCCSample when a sample does
// not conform to AVCC NAL-length framing. It never aborts iteration in
// the demuxer; callers decide whether to skip or stop.
var ErrBadSample = errors.New("h264: malformed AVCC sample")

// NALInfo describes one NAL unit found while walking an AVCC sample.
type NALInfo struct {
	Type       byte
	Offset     int // offset of the NAL payload (after the length field)
	Size       int
	Recognized bool
}

// ValidateAVCCSample walks an AVCC-framed sample using the given
// NAL-length-field size L and returns the NAL units found. It requires
// the walk to land exactly on the end of the sample; any violation
// (overrunning size, zero-length NAL, truncated length field) yields
// ErrBadSample.
func ValidateAVCCSample(sample []byte, lengthSize int) ([]NALInfo, error) {
	if lengthSize != 1 && lengthSize != 2 && lengthSize != 4 {
		return nil, errors.Errorf("h264: invalid NAL length size %d", lengthSize)
	}

	var nals []NALInfo
	c := 0
	size := len(sample)
	for c < size {
		if c+lengthSize > size {
			return nil, errors.Wrap(ErrBadSample, "truncated NAL length field")
		}
		nalSize := readLength(sample[c:c+lengthSize], lengthSize)
		if nalSize == 0 {
			return nil, errors.Wrap(ErrBadSample, "zero-length NAL unit")
		}
		if c+lengthSize+nalSize > size {
			return nil, errors.Wrap(ErrBadSample, "NAL unit overruns sample")
		}
		nalType := sample[c+lengthSize] & 0x1F
		nals = append(nals, NALInfo{
			Type:       nalType,
			Offset:     c + lengthSize,
			Size:       nalSize,
			Recognized: recognizedNALTypes[nalType],
		})
		c += lengthSize + nalSize
	}
	if c != size {
		return nil, errors.Wrap(ErrBadSample, "trailing bytes after last NAL unit")
	}
	return nals, nil
}

func readLength(b []byte, size int) int {
	switch size {
	case 1:
		return int(b[0])
	case 2:
		return int(binary.BigEndian.Uint16(b))
	default: // 4
		return int(binary.BigEndian.Uint32(b))
	}
}
