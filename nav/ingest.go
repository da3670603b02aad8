package nav

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// FixLimiter enforces a minimum interval between fixes by their own
// timestamps. Fixes that arrive too soon are dropped, never queued.
type FixLimiter struct {
	interval time.Duration
	last     time.Time
}

// NewFixLimiter creates a limiter. A zero interval lets everything through.
func NewFixLimiter(interval time.Duration) *FixLimiter {
	return &FixLimiter{interval: interval}
}

// Allow returns a rate-limit rejection when ts is closer than the interval
// to the last allowed fix. Back-dated fixes are let through for the
// filter's stale gate but never move the window backwards.
func (l *FixLimiter) Allow(ts time.Time) error {
	if l.interval > 0 && !l.last.IsZero() {
		if gap := ts.Sub(l.last); gap >= 0 && gap < l.interval {
			return &SensorRejected{Reason: RejectRateLimit, Value: gap.Seconds(), Limit: l.interval.Seconds()}
		}
	}
	if ts.After(l.last) {
		l.last = ts
	}
	return nil
}

// Reset forgets the last fix
func (l *FixLimiter) Reset() {
	l.last = time.Time{}
}

// fixPayload is the wire form of a device fix. Timestamp is Unix
// milliseconds, as browsers and phones report it.
type fixPayload struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Accuracy  float64  `json:"accuracy"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// DecodeFix parses a JSON fix. A missing timestamp is replaced by now.
func DecodeFix(payload []byte, now time.Time) (DeviceFix, error) {
	var p fixPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return DeviceFix{}, fmt.Errorf("decoding fix: %w", err)
	}
	if p.Lat == nil || p.Lng == nil {
		return DeviceFix{}, fmt.Errorf("fix is missing lat/lng")
	}
	if math.Abs(*p.Lat) > 90 || math.Abs(*p.Lng) > 180 {
		return DeviceFix{}, fmt.Errorf("fix coordinates out of range: %f, %f", *p.Lat, *p.Lng)
	}
	if p.Accuracy < 0 {
		return DeviceFix{}, fmt.Errorf("fix accuracy must be >= 0, got %f", p.Accuracy)
	}

	ts := now
	if p.Timestamp > 0 {
		ts = time.UnixMilli(p.Timestamp)
	}
	return DeviceFix{
		Geo:       GeoPoint{Lat: *p.Lat, Lng: *p.Lng},
		Accuracy:  p.Accuracy,
		Heading:   p.Heading,
		Speed:     p.Speed,
		Timestamp: ts,
	}, nil
}

// UpdatePublisher receives session updates, e.g. to forward them over MQTT
type UpdatePublisher interface {
	PublishUpdate(update SessionUpdate) error
}

// Ingestor decodes raw fixes and feeds them to their sessions
type Ingestor struct {
	sessions *SessionManager
	now      func() time.Time

	mu        sync.RWMutex
	publisher UpdatePublisher
}

// NewIngestor creates an ingestor. publisher may be nil.
func NewIngestor(sessions *SessionManager, publisher UpdatePublisher) *Ingestor {
	return &Ingestor{sessions: sessions, publisher: publisher, now: time.Now}
}

// SetPublisher replaces the update publisher. The MQTT client delivers
// fixes to the ingestor and also carries its updates, so one of the two is
// always attached after construction.
func (in *Ingestor) SetPublisher(p UpdatePublisher) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.publisher = p
}

// HandleFix is a FixHandler: it decodes payload, runs it through the
// session and publishes the result. Rejected fixes are logged and skipped.
func (in *Ingestor) HandleFix(sessionID string, payload []byte) {
	if _, err := in.Ingest(sessionID, payload); err != nil {
		if r, ok := IsRejected(err); ok {
			log.Printf("[ingest] session %s: dropped fix (%s)", sessionID, r.Reason)
			return
		}
		log.Printf("[ingest] session %s: %v", sessionID, err)
	}
}

// Ingest is HandleFix with the outcome returned. The session is created
// on its first fix.
func (in *Ingestor) Ingest(sessionID string, payload []byte) (SessionUpdate, error) {
	return in.ingest(in.sessions.GetOrCreate(sessionID), payload)
}

// IngestExisting feeds a fix to a session that must already exist, so an
// ended session is not revived by a late fix.
func (in *Ingestor) IngestExisting(sessionID string, payload []byte) (SessionUpdate, error) {
	s, err := in.sessions.Get(sessionID)
	if err != nil {
		return SessionUpdate{}, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return in.ingest(s, payload)
}

func (in *Ingestor) ingest(s *Session, payload []byte) (SessionUpdate, error) {
	fix, err := DecodeFix(payload, in.now())
	if err != nil {
		return SessionUpdate{}, err
	}
	update, err := s.HandleFix(fix)
	if err != nil {
		return SessionUpdate{}, err
	}
	sessionID := s.ID
	if update.Position.OutOfBounds {
		log.Printf("[ingest] session %s: %v (%.6f, %.6f)", sessionID, ErrOutOfCoverage, update.Position.Lat, update.Position.Lng)
	}
	in.mu.RLock()
	publisher := in.publisher
	in.mu.RUnlock()
	if publisher != nil {
		if err := publisher.PublishUpdate(update); err != nil {
			log.Printf("[ingest] session %s: publish failed: %v", sessionID, err)
		}
	}
	return update, nil
}
