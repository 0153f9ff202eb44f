package models

import "time"

// GOPSummary describes one group-of-pictures found by gopanalysis.
type GOPSummary struct {
	StartSampleIndex int   `json:"startSampleIndex"`
	SampleCount      int   `json:"sampleCount"`
	StartPTSValue    int64 `json:"startPtsValue"`
}

// GOPResponse is the response body for the GOP summary endpoint.
type GOPResponse struct {
	TrackID int          `json:"trackId"`
	GOPs    []GOPSummary `json:"gops"`
}

// SessionInfo is the HTTP-facing summary of one open session.
type SessionInfo struct {
	SessionID string         `json:"sessionId"`
	OpenedAt  time.Time      `json:"openedAt"`
	Tracks    []TrackSummary `json:"tracks"`
}

// SessionListResponse lists every open session.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}
