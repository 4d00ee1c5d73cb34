package roster

import (
	"context"
	"testing"

	"github.com/kozaktomas/rollcall/internal/apperr"
)

func TestLedger(t *testing.T) {
	e := fixture(t)
	ctx := context.Background()
	s, err := e.CreateSession(ctx, "prof", "cs", KindLecture)
	if err != nil {
		t.Fatal(err)
	}
	l := e.Ledger(s.ID)

	if l.Has("alice") {
		t.Fatal("fresh ledger reports alice present")
	}
	if _, err := l.Mark(ctx, "alice", "Alice A."); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if _, err := l.Mark(ctx, "bob", ""); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if !l.Has("alice") || !l.Has("bob") {
		t.Error("marked persons not reported present")
	}
	_, err = l.Mark(ctx, "alice", "")
	assertKind(t, err, apperr.AlreadyMarked)

	entries, err := l.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].PersonName != "Alice A." || entries[1].PersonName != "Bob" {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := e.Ledger("missing").Entries(); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("Entries on missing session = %v, want not found", err)
	}
	if e.Ledger("missing").Has("alice") {
		t.Error("missing session reports attendance")
	}
}
