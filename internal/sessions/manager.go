// Package sessions tracks open Mp4Demuxer handles keyed by a UUID
// session id, so an HTTP caller can open a demux session once and
// drive next_sample/close across subsequent requests. Adapted from
// the teacher's streammanager.Manager (map+RWMutex registry of
// in-memory handles) and auth.Manager (background expiry-sweep
// pattern).
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"mp4probe/internal/demux"
	"mp4probe/internal/storage"
)

// TrackSummary is the track metadata returned when a session is opened.
type TrackSummary struct {
	TrackID     int
	Kind        string
	Timescale   uint32
	SampleCount int
	Width       int
	Height      int
	ProfileIDC  uint8
	LevelIDC    uint8
	SPS         []byte
	PPS         []byte
}

// Session binds a UUID to one open demuxer. Each Session has its own
// mutex: the underlying demuxer is not safe for concurrent use, but the
// Manager itself must allow concurrent session creation/lookup.
type Session struct {
	ID        string
	Demuxer   *demux.Demuxer
	Tracks    []TrackSummary
	OpenedAt time.Time
	lastUsed time.Time
	mu       sync.Mutex
}

// Manager holds every open Session, guarded by a single RWMutex, the
// same shape as the teacher's stream registry.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	idleTTL  time.Duration
	stopCh   chan struct{}
}

// New creates a Manager whose sessions are closed automatically after
// idleTTL of inactivity. A zero idleTTL disables the expiry sweep.
func New(idleTTL time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		stopCh:   make(chan struct{}),
	}
	if idleTTL > 0 {
		go m.sweepLoop()
	}
	return m
}

// Open calls demux.Open against src/name and registers a new Session.
func (m *Manager) Open(src storage.Source, name string) (*Session, error) {
	handle, size, err := src.Open(name)
	if err != nil {
		return nil, err
	}

	d, err := demux.Open(handle, size, handle)
	if err != nil {
		handle.Close()
		return nil, err
	}

	tracks := make([]TrackSummary, 0, len(d.Tracks))
	for _, t := range d.Tracks {
		summary := TrackSummary{
			TrackID:     t.TrackID,
			Kind:        t.Kind.String(),
			Timescale:   t.Timescale,
			SampleCount: t.SampleCount,
		}
		if t.SPSParams != nil {
			summary.Width = t.SPSParams.Width
			summary.Height = t.SPSParams.Height
			summary.ProfileIDC = t.SPSParams.ProfileIDC
			summary.LevelIDC = t.SPSParams.LevelIDC
		} else {
			summary.Width = t.FallbackWidth
			summary.Height = t.FallbackHeight
		}
		if t.H264 != nil {
			summary.SPS = t.H264.SPS
			summary.PPS = t.H264.PPS
		}
		tracks = append(tracks, summary)
	}

	id := uuid.NewString()
	session := &Session{
		ID:       id,
		Demuxer:  d,
		Tracks:   tracks,
		OpenedAt: time.Now(),
		lastUsed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	return session, nil
}

// Get returns the session for id, or false if it does not exist.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns every open session.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Next calls ReadNextSample on the session's demuxer under the
// session's own lock (one consumer at a time) and touches its
// last-used time so the idle sweep leaves it alone.
func (s *Session) Next() (*demux.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return s.Demuxer.ReadNextSample()
}

// Close closes the session's demuxer and removes it from the Manager.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Demuxer.Close()
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop halts the background idle-expiry sweep.
func (m *Manager) Stop() {
	close(m.stopCh)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := now.Sub(s.lastUsed)
		s.mu.Unlock()
		if idle > m.idleTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Demuxer.Close()
	}
}
