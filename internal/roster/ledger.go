package roster

import "context"

// Ledger is the attendance set of one session. Has is a cheap read used to skip matching
// work for people already present; Mark goes through the engine so every precondition is
// re-checked under the write lock.
type Ledger struct {
	engine    *Engine
	sessionID string
}

// Ledger returns the attendance ledger of a session.
func (e *Engine) Ledger(sessionID string) *Ledger {
	return &Ledger{engine: e, sessionID: sessionID}
}

// SessionID returns the session the ledger belongs to.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Has reports whether the person is already marked present. It guards only the write:
// matching has already run by the time the person is known.
func (l *Ledger) Has(personID string) bool {
	return l.engine.graph.HasAttendance(l.sessionID, personID)
}

// Mark records the person as present.
func (l *Ledger) Mark(ctx context.Context, personID, personName string) (AttendanceEntry, error) {
	return l.engine.MarkAttendance(ctx, l.sessionID, personID, personName)
}

// Entries returns the attendance entries in marking order.
func (l *Ledger) Entries() ([]AttendanceEntry, error) {
	s, err := l.engine.graph.SessionByID(l.sessionID)
	if err != nil {
		return nil, err
	}
	return s.Attendance, nil
}
