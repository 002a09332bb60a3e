package research

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventLog is the append-only, per-session ordered event sequence. Sequence
// numbers are assigned under the log's lock, so events within a session are
// totally ordered regardless of which branch produced them.
//
// Consumers follow the log with a cursor: EventsSince(sessionID, afterSeq)
// returns only events newer than the cursor, in order.
type EventLog struct {
	store Store
	log   zerolog.Logger

	mu   sync.Mutex
	seqs map[string]int64
}

func NewEventLog(store Store, log zerolog.Logger) *EventLog {
	return &EventLog{
		store: store,
		log:   log,
		seqs:  map[string]int64{},
	}
}

// Append records an event for a session. It is fire-and-forget from the
// caller's perspective but never silently drops: persistence failures are
// logged with the full event so an operator can reconcile.
func (l *EventLog) Append(sessionID string, kind EventType, payload map[string]any) {
	l.mu.Lock()
	seq, ok := l.seqs[sessionID]
	if !ok {
		// Resume after the highest persisted sequence for the session.
		if max, err := l.store.MaxEventSeq(sessionID); err == nil {
			seq = max
		}
	}
	seq++
	l.seqs[sessionID] = seq

	ev := Event{
		Seq:       seq,
		SessionID: sessionID,
		Type:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	// Persist while still holding the lock so insertion order matches
	// sequence order even under concurrent branches.
	err := l.store.AppendEvent(ev)
	l.mu.Unlock()

	if err != nil {
		l.log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("event", string(kind)).
			Int64("seq", seq).
			Msg("event append failed")
	}
}

// EventsSince returns all events for the session strictly after the given
// cursor, in sequence order. A cursor of 0 replays the whole log.
func (l *EventLog) EventsSince(sessionID string, afterSeq int64) ([]Event, error) {
	return l.store.EventsSince(sessionID, afterSeq)
}
