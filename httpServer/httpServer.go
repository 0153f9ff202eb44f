// Package httpServer exposes the probe service over HTTP with gin, the
// same router/handler shape as the teacher's httpServer package, wired
// against sessions instead of live streams.
package httpServer

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mp4probe/internal/auth"
	"mp4probe/internal/demux"
	"mp4probe/internal/gopanalysis"
	"mp4probe/internal/h264"
	"mp4probe/internal/metrics"
	"mp4probe/internal/sessions"
	"mp4probe/internal/storage"
	"mp4probe/pkg/models"
)

// Server wraps the HTTP server with its dependencies.
type Server struct {
	router      *gin.Engine
	sessionMgr  *sessions.Manager
	authMgr     *auth.Manager
	metrics     *metrics.Metrics
	localSource storage.Source
	gcsSource   storage.Source // nil unless STORAGE_TYPE=gcs
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

// New creates a new HTTP server.
func New(sessionMgr *sessions.Manager, authMgr *auth.Manager, m *metrics.Metrics, localSource, gcsSource storage.Source) *Server {
	s := &Server{
		sessionMgr:  sessionMgr,
		authMgr:     authMgr,
		metrics:     m,
		localSource: localSource,
		gcsSource:   gcsSource,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := gin.Default()
	router.Use(s.metricsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.POST("/v1/tokens", s.handleIssueToken)

		v1 := api.Group("/v1")
		v1.Use(s.authMiddleware())
		{
			v1.POST("/probe", s.handleProbe)
			v1.GET("/sessions", s.handleListSessions)
			v1.GET("/sessions/:id/sample", s.handleNextSample)
			v1.GET("/sessions/:id/gops", s.handleGOPs)
			v1.DELETE("/sessions/:id", s.handleCloseSession)
		}
	}

	router.GET("/metrics", gin.WrapH(metricsHandler()))

	s.router = router
}

// Run starts the HTTP server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// authMiddleware requires a valid bearer token on /api/v1 routes other
// than token issuance itself.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(token) > len(prefix) && token[:len(prefix)] == prefix {
			token = token[len(prefix):]
		}
		if err := s.authMgr.ValidateToken(token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Seconds())
		}
	}
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req models.TokenRequest
	// Body is optional: a missing/empty body falls back to the
	// manager's default expiration.
	_ = c.ShouldBindJSON(&req)

	token, err := s.authMgr.GenerateToken(req.ExpiresIn)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleProbe(c *gin.Context) {
	var req models.ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src := s.localSource
	if req.Source == "gcs" {
		if s.gcsSource == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "gcs source not configured"})
			return
		}
		src = s.gcsSource
	}
	if src == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "local source not configured"})
		return
	}

	start := time.Now()
	session, err := s.sessionMgr.Open(src, req.Path)
	if err != nil {
		s.recordParseError(err)
		writeDemuxError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSessionOpen(time.Since(start).Seconds())
	}

	c.JSON(http.StatusOK, models.ProbeResponse{
		SessionID: session.ID,
		Tracks:    toModelTracks(session.Tracks),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessionList := s.sessionMgr.List()
	infos := make([]models.SessionInfo, 0, len(sessionList))
	for _, sess := range sessionList {
		infos = append(infos, models.SessionInfo{
			SessionID: sess.ID,
			OpenedAt:  sess.OpenedAt,
			Tracks:    toModelTracks(sess.Tracks),
		})
	}
	c.JSON(http.StatusOK, models.SessionListResponse{
		Sessions: infos,
		Total:    len(infos),
	})
}

func (s *Server) handleNextSample(c *gin.Context) {
	id := c.Param("id")
	session, ok := s.sessionMgr.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	sample, err := session.Next()
	if err == io.EOF {
		c.JSON(http.StatusNotFound, gin.H{"error": "no more samples"})
		return
	}
	if err != nil {
		s.recordParseError(err)
		writeDemuxError(c, err)
		return
	}

	warning := ""
	if demuxTrack := demuxTrackFor(session, sample.TrackID); demuxTrack != nil && demuxTrack.H264 != nil {
		if _, verr := h264.ValidateAVCCSample(sample.Bytes, demuxTrack.H264.NALLengthSize); verr != nil {
			warning = verr.Error()
			if s.metrics != nil {
				s.metrics.RecordBadSample()
			}
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSample(sample.Kind.String(), int(sample.Size))
	}

	c.JSON(http.StatusOK, models.SampleResponse{
		TrackID:   sample.TrackID,
		Kind:      sample.Kind.String(),
		Size:      sample.Size,
		PTSValue:  sample.PTSValue,
		Timescale: sample.Timescale,
		Bytes:     sample.Bytes,
		Warning:   warning,
	})
}

func (s *Server) handleGOPs(c *gin.Context) {
	id := c.Param("id")
	session, ok := s.sessionMgr.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	trackIDStr := c.Query("track")
	trackID, err := strconv.Atoi(trackIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "track query parameter must be an integer"})
		return
	}

	track := findTrack(session, trackID)
	if track == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "track not found"})
		return
	}

	samples, err := drainTrackSamples(session, trackID)
	if err != nil {
		s.recordParseError(err)
		writeDemuxError(c, err)
		return
	}

	demuxTrack := demuxTrackFor(session, trackID)
	gops := gopanalysis.Analyze(demuxTrack, samples)
	if s.metrics != nil {
		s.metrics.RecordGOPAnalysis(len(gops))
	}

	out := make([]models.GOPSummary, 0, len(gops))
	for _, g := range gops {
		out = append(out, models.GOPSummary{
			StartSampleIndex: g.StartSampleIndex,
			SampleCount:      g.SampleCount,
			StartPTSValue:    g.StartPTSValue,
		})
	}

	c.JSON(http.StatusOK, models.GOPResponse{
		TrackID: trackID,
		GOPs:    out,
	})
}

func (s *Server) handleCloseSession(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.sessionMgr.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := s.sessionMgr.Close(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSessionClose()
	}
	c.JSON(http.StatusOK, gin.H{"message": "session closed", "sessionId": id})
}

func (s *Server) recordParseError(err error) {
	if s.metrics == nil {
		return
	}
	if derr, ok := err.(*demux.Error); ok {
		s.metrics.RecordParseError(errorKindString(derr.Kind))
		return
	}
	s.metrics.RecordParseError("unknown")
}

func toModelTracks(tracks []sessions.TrackSummary) []models.TrackSummary {
	out := make([]models.TrackSummary, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, models.TrackSummary{
			TrackID:     t.TrackID,
			Kind:        t.Kind,
			Timescale:   t.Timescale,
			SampleCount: t.SampleCount,
			Width:       t.Width,
			Height:      t.Height,
			ProfileIDC:  t.ProfileIDC,
			LevelIDC:    t.LevelIDC,
		})
	}
	return out
}

func findTrack(session *sessions.Session, trackID int) *sessions.TrackSummary {
	for i := range session.Tracks {
		if session.Tracks[i].TrackID == trackID {
			return &session.Tracks[i]
		}
	}
	return nil
}

func demuxTrackFor(session *sessions.Session, trackID int) *demux.Track {
	for _, t := range session.Demuxer.Tracks {
		if t.TrackID == trackID {
			return t
		}
	}
	return nil
}

// drainTrackSamples reads every remaining sample of the session's
// demuxer, across all tracks, and keeps those belonging to trackID.
// Samples of trackID already read by earlier calls are not included,
// so the result is complete only when none of them had been read yet.
func drainTrackSamples(session *sessions.Session, trackID int) ([]demux.Sample, error) {
	var out []demux.Sample
	for {
		sample, err := session.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if sample.TrackID == trackID {
			out = append(out, *sample)
		}
	}
	return out, nil
}

func errorKindString(k demux.ErrorKind) string {
	switch k {
	case demux.ErrKindIO:
		return "io_error"
	case demux.ErrKindMalformedHeader:
		return "malformed_header"
	case demux.ErrKindMalformedTable:
		return "malformed_table"
	case demux.ErrKindMissingBox:
		return "missing_box"
	case demux.ErrKindUnsupportedProfile:
		return "unsupported_profile"
	case demux.ErrKindBadSample:
		return "bad_sample"
	case demux.ErrKindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// writeDemuxError maps a demux.Error's taxonomy Kind to an HTTP status
// per SPEC_FULL.md's error-to-status table.
func writeDemuxError(c *gin.Context, err error) {
	derr, ok := err.(*demux.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch derr.Kind {
	case demux.ErrKindNotFound:
		status = http.StatusNotFound
	case demux.ErrKindMalformedHeader, demux.ErrKindMalformedTable, demux.ErrKindMissingBox:
		status = http.StatusUnprocessableEntity
	case demux.ErrKindUnsupportedProfile:
		status = http.StatusUnsupportedMediaType
	case demux.ErrKindBadSample:
		status = http.StatusOK
	case demux.ErrKindIO:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": derr.Error(), "errorKind": errorKindString(derr.Kind)})
}
