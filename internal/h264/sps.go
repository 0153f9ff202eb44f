package h264

import (
	"github.com/pkg/errors"

	"mp4probe/internal/bitreader"
)

// SPSParams is the subset of H.264 Sequence Parameter Set fields this
// core derives coded picture dimensions from.
type SPSParams struct {
	ProfileIDC uint8
	LevelIDC   uint8
	Width      int
	Height     int
}

// profileIDCsWithChromaInfo lists the profile_idc values whose SPS
// carries the chroma-format / bit-depth / scaling-matrix block (H.264
// §7.3.2.1.1).
var profileIDCsWithChromaInfo = map[uint8]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true,
}

// ErrSPSTooShort is returned when the SPS NAL unit has no payload past
// the 1-byte NAL header.
var ErrSPSTooShort = errors.New("h264: sps NAL unit too short")

// ParseSPS parses an SPS NAL unit (including its 1-byte NAL header)
// and derives profile, level, and coded width/height. Cropping is not
// applied; the reported dimensions are the coded (macroblock-aligned)
// dimensions.
func ParseSPS(nal []byte) (*SPSParams, error) {
	if len(nal) < 2 {
		return nil, ErrSPSTooShort
	}

	r := bitreader.New(nal)
	// Skip the 1-byte NAL header.
	if err := r.SkipBits(8); err != nil {
		return nil, errors.Wrap(err, "nal header")
	}

	profileIDC, err := r.ReadBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "profile_idc")
	}
	if err := r.SkipBits(8); err != nil { // constraint_set flags + reserved
		return nil, errors.Wrap(err, "constraint_set_flags")
	}
	levelIDC, err := r.ReadBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "level_idc")
	}

	if _, err := r.ReadUE(); err != nil { // seq_parameter_set_id
		return nil, errors.Wrap(err, "seq_parameter_set_id")
	}

	chromaFormatIDC := uint32(1)
	if profileIDCsWithChromaInfo[uint8(profileIDC)] {
		chromaFormatIDC, err = r.ReadUE()
		if err != nil {
			return nil, errors.Wrap(err, "chroma_format_idc")
		}
		if chromaFormatIDC == 3 {
			if err := r.SkipBits(1); err != nil { // separate_colour_plane_flag
				return nil, errors.Wrap(err, "separate_colour_plane_flag")
			}
		}
		if _, err := r.ReadUE(); err != nil { // bit_depth_luma_minus8
			return nil, errors.Wrap(err, "bit_depth_luma_minus8")
		}
		if _, err := r.ReadUE(); err != nil { // bit_depth_chroma_minus8
			return nil, errors.Wrap(err, "bit_depth_chroma_minus8")
		}
		if err := r.SkipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return nil, errors.Wrap(err, "qpprime_y_zero_transform_bypass_flag")
		}
		seqScalingMatrixPresent, err := r.ReadBit()
		if err != nil {
			return nil, errors.Wrap(err, "seq_scaling_matrix_present_flag")
		}
		if seqScalingMatrixPresent == 1 {
			count := 8
			if chromaFormatIDC == 3 {
				count = 12
			}
			for i := 0; i < count; i++ {
				present, err := r.ReadBit()
				if err != nil {
					return nil, errors.Wrap(err, "seq_scaling_list_present_flag")
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return nil, errors.Wrap(err, "scaling_list")
					}
				}
			}
		}
	}

	if _, err := r.ReadUE(); err != nil { // log2_max_frame_num_minus4
		return nil, errors.Wrap(err, "log2_max_frame_num_minus4")
	}

	picOrderCntType, err := r.ReadUE()
	if err != nil {
		return nil, errors.Wrap(err, "pic_order_cnt_type")
	}
	switch picOrderCntType {
	case 0:
		if _, err := r.ReadUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return nil, errors.Wrap(err, "log2_max_pic_order_cnt_lsb_minus4")
		}
	case 1:
		if err := r.SkipBits(1); err != nil { // delta_pic_order_always_zero_flag
			return nil, errors.Wrap(err, "delta_pic_order_always_zero_flag")
		}
		if _, err := r.ReadSE(); err != nil { // offset_for_non_ref_pic
			return nil, errors.Wrap(err, "offset_for_non_ref_pic")
		}
		if _, err := r.ReadSE(); err != nil { // offset_for_top_to_bottom_field
			return nil, errors.Wrap(err, "offset_for_top_to_bottom_field")
		}
		numRefFramesInCycle, err := r.ReadUE()
		if err != nil {
			return nil, errors.Wrap(err, "num_ref_frames_in_pic_order_cnt_cycle")
		}
		for i := uint32(0); i < numRefFramesInCycle; i++ {
			if _, err := r.ReadSE(); err != nil { // offset_for_ref_frame
				return nil, errors.Wrap(err, "offset_for_ref_frame")
			}
		}
	}

	if _, err := r.ReadUE(); err != nil { // max_num_ref_frames
		return nil, errors.Wrap(err, "max_num_ref_frames")
	}
	if err := r.SkipBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return nil, errors.Wrap(err, "gaps_in_frame_num_value_allowed_flag")
	}

	picWidthInMBsMinus1, err := r.ReadUE()
	if err != nil {
		return nil, errors.Wrap(err, "pic_width_in_mbs_minus1")
	}
	picHeightInMapUnitsMinus1, err := r.ReadUE()
	if err != nil {
		return nil, errors.Wrap(err, "pic_height_in_map_units_minus1")
	}
	frameMBSOnlyFlag, err := r.ReadBit()
	if err != nil {
		return nil, errors.Wrap(err, "frame_mbs_only_flag")
	}
	if frameMBSOnlyFlag == 0 {
		if err := r.SkipBits(1); err != nil { // mb_adaptive_frame_field_flag
			return nil, errors.Wrap(err, "mb_adaptive_frame_field_flag")
		}
	}

	width := int(picWidthInMBsMinus1+1) * 16
	height := (2 - int(frameMBSOnlyFlag)) * int(picHeightInMapUnitsMinus1+1) * 16

	return &SPSParams{
		ProfileIDC: uint8(profileIDC),
		LevelIDC:   uint8(levelIDC),
		Width:      width,
		Height:     height,
	}, nil
}

// skipScalingList implements the H.264 §7.3.2.1.1.1 scaling_list()
// skip: it must consume exactly the bits the scaling list occupies
// (delta_scale is only present while nextScale stays non-zero) even
// though this core discards the decoded coefficients.
func skipScalingList(r *bitreader.Reader, size int) error {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			deltaScale, err := r.ReadSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}
