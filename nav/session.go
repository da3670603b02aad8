package nav

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// SessionUpdate is everything one accepted fix produced
type SessionUpdate struct {
	SessionID   string           `json:"sessionId"`
	Position    SmoothedPosition `json:"position"`
	Progress    *RouteProgress   `json:"progress,omitempty"`
	Instruction *DirectionStep   `json:"instruction,omitempty"`
}

// Session is one device's navigation state: its position filter, the route
// it follows and the guidance derived from both. Fixes are serialised by the
// session lock so the filter and tracker keep a single writer.
type Session struct {
	ID string

	mu           sync.Mutex
	limiter      *FixLimiter
	filter       *PositionFilter
	tracker      *ProgressTracker
	instructions *InstructionGenerator
	calibration  *Calibration

	destination string
	position    *SmoothedPosition
	progress    *RouteProgress
}

// NewSession creates a session. cal may be nil, in which case progress
// tracking is unavailable.
func NewSession(id string, cfg Config, cal *Calibration) *Session {
	return &Session{
		ID:           id,
		limiter:      NewFixLimiter(cfg.Filter.FixInterval),
		filter:       NewPositionFilter(cfg.Filter, cal),
		tracker:      NewProgressTracker(cfg.Progress),
		instructions: NewInstructionGenerator(cfg.Instructions, cal),
		calibration:  cal,
	}
}

// HandleFix runs a fix through rate limiting, filtering, progress tracking
// and guidance. Rejections are returned as *SensorRejected.
func (s *Session) HandleFix(fix DeviceFix) (SessionUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.limiter.Allow(fix.Timestamp); err != nil {
		return SessionUpdate{}, err
	}
	pos, err := s.filter.Process(fix)
	if err != nil {
		return SessionUpdate{}, err
	}
	s.position = &pos

	update := SessionUpdate{SessionID: s.ID, Position: pos}
	route := s.tracker.Route()
	if len(route.Nodes) == 0 {
		return update, nil
	}

	if s.calibration != nil {
		if progress, ok := s.tracker.Update(s.calibration.GeoToPlane(pos.Lat, pos.Lng)); ok {
			s.progress = &progress
			update.Progress = &progress
		}
	}

	step, err := s.instructions.NextInstruction(route, pos.Geo(), s.destination)
	if err == nil {
		update.Instruction = &step
	}
	return update, nil
}

// SetRoute makes route the active route. fixedStart pins the marker to the
// first node while guidance is active; dest names the destination.
func (s *Session) SetRoute(route ActiveRoute, fixedStart bool, dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.SetRoute(route, fixedStart)
	s.destination = dest
	s.progress = nil
}

// ClearRoute drops the route and stops guidance
func (s *Session) ClearRoute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ClearRoute()
	s.destination = ""
	s.progress = nil
}

// SetTurnByTurn starts or stops guidance
func (s *Session) SetTurnByTurn(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.SetTurnByTurn(active)
}

// SetSimulation switches the filter's simulation mode
func (s *Session) SetSimulation(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.SetSimulation(on)
	s.limiter.Reset()
}

// Reset teleports the session to g
func (s *Session) Reset(g GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Reset(g)
	s.limiter.Reset()
}

// Directions decomposes the active route into steps
func (s *Session) Directions() ([]DirectionStep, error) {
	s.mu.Lock()
	route := s.tracker.Route()
	s.mu.Unlock()
	return s.instructions.Directions(route)
}

// Position returns the last smoothed position
func (s *Session) Position() (SmoothedPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return SmoothedPosition{}, false
	}
	return *s.position, true
}

// Progress returns the last route progress
func (s *Session) Progress() (RouteProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return RouteProgress{}, false
	}
	return *s.progress, true
}

// ---------------------------------------------------------------------------
// SessionManager
// ---------------------------------------------------------------------------

// SessionManager owns every live session
type SessionManager struct {
	cfg         Config
	calibration *Calibration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty manager
func NewSessionManager(cfg Config, cal *Calibration) *SessionManager {
	return &SessionManager{cfg: cfg, calibration: cal, sessions: make(map[string]*Session)}
}

// Create starts a session with a fresh id
func (m *SessionManager) Create() *Session {
	return m.GetOrCreate(uuid.NewString())
}

// GetOrCreate returns the session for id, creating it on first use
func (m *SessionManager) GetOrCreate(id string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = NewSession(id, m.cfg, m.calibration)
	m.sessions[id] = s
	return s
}

// Get returns an existing session
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove ends a session
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// IDs lists the live session ids, sorted
func (m *SessionManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
