package gopanalysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mp4probe/internal/demux"
	"mp4probe/internal/h264"
)

func idrSample() []byte {
	return []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0xAA}
}

func pSample() []byte {
	return []byte{0x00, 0x00, 0x00, 0x02, 0x21, 0xAA}
}

func TestAnalyzeGroupsByIDR(t *testing.T) {
	track := &demux.Track{H264: &h264.DecoderConfig{NALLengthSize: 4}}
	samples := []demux.Sample{
		{PTSValue: 0, Bytes: idrSample()},
		{PTSValue: 1, Bytes: pSample()},
		{PTSValue: 2, Bytes: pSample()},
		{PTSValue: 3, Bytes: idrSample()},
		{PTSValue: 4, Bytes: pSample()},
	}

	gops := Analyze(track, samples)
	require.Len(t, gops, 2)
	require.Equal(t, 0, gops[0].StartSampleIndex)
	require.Equal(t, 3, gops[0].SampleCount)
	require.Equal(t, 3, gops[1].StartSampleIndex)
	require.Equal(t, 2, gops[1].SampleCount)
}

func TestAnalyzeNoH264ReturnsNil(t *testing.T) {
	track := &demux.Track{}
	require.Nil(t, Analyze(track, nil))
}
