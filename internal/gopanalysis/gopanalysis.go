// Package gopanalysis performs a read-only pass over an already
// demuxed video track's samples, grouping them into GOPs bounded by
// IDR samples. It decodes no pixels; it only re-uses the AVCC NAL walk
// already implemented for sample validation to find IDR boundaries.
//
// Adapted from the teacher's internal/segmenter package, which drove
// HLS segment boundaries off keyframe detection (frame.IsKeyFrame);
// here the same keyframe-boundary idea is generalized to a read-only
// GOP summary over a demux.Track's sample table instead of writing
// .m4s segments.
package gopanalysis

import (
	"mp4probe/internal/demux"
	"mp4probe/internal/h264"
)

// GOP describes one run of samples from an IDR sample (inclusive) up
// to, but not including, the next IDR sample.
type GOP struct {
	StartSampleIndex int
	SampleCount      int
	StartPTSValue    int64
}

// Analyze groups samples (already filtered to one track, in sample
// order) into GOPs. A sample that fails AVCC validation is treated as
// non-IDR rather than aborting the analysis, mirroring the demuxer's
// rule that a bad sample never poisons iteration.
func Analyze(track *demux.Track, samples []demux.Sample) []GOP {
	if track.H264 == nil {
		return nil
	}
	lengthSize := track.H264.NALLengthSize

	var gops []GOP
	for i, s := range samples {
		if isIDRSample(s.Bytes, lengthSize) {
			gops = append(gops, GOP{
				StartSampleIndex: i,
				StartPTSValue:    s.PTSValue,
			})
		}
		if len(gops) == 0 {
			// No IDR seen yet; samples before the first IDR don't
			// belong to any complete GOP and are not counted.
			continue
		}
		gops[len(gops)-1].SampleCount++
	}
	return gops
}

func isIDRSample(sample []byte, lengthSize int) bool {
	nals, err := h264.ValidateAVCCSample(sample, lengthSize)
	if err != nil {
		return false
	}
	for _, n := range nals {
		if n.Type == h264.NALTypeIDR {
			return true
		}
	}
	return false
}
