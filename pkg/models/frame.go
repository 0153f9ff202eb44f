package models

// ProbeRequest names the input file a session should be opened against.
type ProbeRequest struct {
	Source string `json:"source" binding:"required"` // "local" or "gcs"
	Path   string `json:"path" binding:"required"`
}

// ProbeResponse is returned after a session is opened: the session id
// plus a summary of every track found.
type ProbeResponse struct {
	SessionID string         `json:"sessionId"`
	Tracks    []TrackSummary `json:"tracks"`
}

// TrackSummary is the HTTP-facing view of a demux.Track.
type TrackSummary struct {
	TrackID     int    `json:"trackId"`
	Kind        string `json:"kind"`
	Timescale   uint32 `json:"timescale"`
	SampleCount int    `json:"sampleCount"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ProfileIDC  uint8  `json:"profileIdc,omitempty"`
	LevelIDC    uint8  `json:"levelIdc,omitempty"`
}

// SampleResponse is the HTTP-facing view of one demuxed sample.
type SampleResponse struct {
	TrackID   int    `json:"trackId"`
	Kind      string `json:"kind"`
	Size      int64  `json:"size"`
	PTSValue  int64  `json:"ptsValue"`
	Timescale uint32 `json:"timescale"`
	Bytes     []byte `json:"bytes"` // base64-encoded by encoding/json
	Warning   string `json:"warning,omitempty"`
}
