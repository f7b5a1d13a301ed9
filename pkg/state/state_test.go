package state

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRecordAndIsProcessed(t *testing.T) {
	s, _ := openTestStore(t)

	id := "/in/alipay_record.csv"
	done, err := s.IsProcessed(id)
	if err != nil || done {
		t.Fatalf("fresh store: done=%v err=%v", done, err)
	}

	if err := s.Record(id); err != nil {
		t.Fatalf("Record: %v", err)
	}
	done, err = s.IsProcessed(id)
	if err != nil || !done {
		t.Fatalf("after Record: done=%v err=%v", done, err)
	}
}

func TestRecordSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record("a", "b"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.SetMapping("余额宝", "acct-123"); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	done, err := s2.IsProcessed("b")
	if err != nil || !done {
		t.Fatalf("after reopen: done=%v err=%v", done, err)
	}
	acct, ok, err := s2.Mapping("余额宝")
	if err != nil || !ok || acct != "acct-123" {
		t.Fatalf("mapping after reopen: %q ok=%v err=%v", acct, ok, err)
	}
}

func TestHasUIDSuccess(t *testing.T) {
	s, _ := openTestStore(t)

	if err := s.Record(EmailIdentity("me@example.com", 42, "bill.zip")); err != nil {
		t.Fatalf("Record: %v", err)
	}

	tests := []struct {
		mailbox string
		uid     uint32
		want    bool
	}{
		{"me@example.com", 42, true},
		{"me@example.com", 43, false},
		// UID 4 must not match the UID 42 entry by prefix.
		{"me@example.com", 4, false},
		{"other@example.com", 42, false},
	}
	for _, tt := range tests {
		got, err := s.HasUIDSuccess(tt.mailbox, tt.uid)
		if err != nil {
			t.Fatalf("HasUIDSuccess(%s, %d): %v", tt.mailbox, tt.uid, err)
		}
		if got != tt.want {
			t.Errorf("HasUIDSuccess(%s, %d) = %v, want %v", tt.mailbox, tt.uid, got, tt.want)
		}
	}
}

func TestMappingMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, ok, err := s.Mapping("unknown")
	if err != nil || ok {
		t.Fatalf("missing mapping: ok=%v err=%v", ok, err)
	}
}
