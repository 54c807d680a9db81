package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/mm3d/pkg/qsolog"
)

func newTestStore(t *testing.T) *LogStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "mm3d-storage-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := NewLogStore(filepath.Join(tempDir, "log.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot() qsolog.Snapshot {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return qsolog.Snapshot{
		NextSerial: 4,
		Entries: []qsolog.Entry{
			{ID: "a", Serial: 1, Timestamp: base, Callsign: "W1AW", RSTSent: "599", RSTReceived: "599",
				ExchangeSent: "1", ExchangeReceived: "005", Frequency: "14.025000", Mode: "CW"},
			{ID: "c", Serial: 3, Timestamp: base.Add(2 * time.Minute), Callsign: "K1ABC", RSTSent: "599", RSTReceived: "579",
				ExchangeSent: "3", ExchangeReceived: "MA", Frequency: "N/A", Mode: "CW"},
			{ID: "d", Serial: 2, Timestamp: base.Add(time.Minute), Callsign: "W1AW", RSTSent: "599", RSTReceived: "599",
				ExchangeSent: "2", ExchangeReceived: "007", Frequency: "7.030000", Mode: "CW"},
		},
	}
}

func TestNewLogStore(t *testing.T) {
	t.Run("Nested Directory", func(t *testing.T) {
		tempDir := t.TempDir()
		dbPath := filepath.Join(tempDir, "nested", "dir", "log.db")
		store, err := NewLogStore(dbPath)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		defer store.Close()

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}
	})

	t.Run("Empty Store", func(t *testing.T) {
		store := newTestStore(t)
		snap, err := store.LoadSnapshot()
		if err != nil {
			t.Fatalf("LoadSnapshot failed: %v", err)
		}
		if len(snap.Entries) != 0 {
			t.Errorf("Expected no entries, got %d", len(snap.Entries))
		}
		if snap.NextSerial != 1 {
			t.Errorf("Expected next serial 1, got %d", snap.NextSerial)
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	want := testSnapshot()

	if err := store.SaveSnapshot(want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := store.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if got.NextSerial != 4 {
		t.Errorf("Expected next serial 4, got %d", got.NextSerial)
	}
	if len(got.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got.Entries))
	}
	for i := range want.Entries {
		w, g := want.Entries[i], got.Entries[i]
		if w.ID != g.ID || w.Serial != g.Serial || w.Callsign != g.Callsign || w.Frequency != g.Frequency {
			t.Errorf("Entry %d: expected %+v, got %+v", i, w, g)
		}
		if !w.Timestamp.Equal(g.Timestamp) {
			t.Errorf("Entry %d: expected time %v, got %v", i, w.Timestamp, g.Timestamp)
		}
	}

	t.Run("Save Replaces", func(t *testing.T) {
		smaller := qsolog.Snapshot{Entries: want.Entries[1:2], NextSerial: 4}
		if err := store.SaveSnapshot(smaller); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
		got, err := store.LoadSnapshot()
		if err != nil {
			t.Fatalf("LoadSnapshot failed: %v", err)
		}
		if len(got.Entries) != 1 || got.Entries[0].Callsign != "K1ABC" {
			t.Errorf("Expected only K1ABC, got %+v", got.Entries)
		}
	})
}

func TestGetQSOs(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSnapshot(testSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	t.Run("By Callsign", func(t *testing.T) {
		entries, err := store.GetQSOs(QSOQuery{Callsign: "w1aw"})
		if err != nil {
			t.Fatalf("GetQSOs failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries, got %d", len(entries))
		}
		if entries[0].Serial != 1 || entries[1].Serial != 2 {
			t.Errorf("Expected display order, got serials %d, %d", entries[0].Serial, entries[1].Serial)
		}
	})

	t.Run("Limit And Offset", func(t *testing.T) {
		entries, err := store.GetQSOs(QSOQuery{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("GetQSOs failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Callsign != "K1ABC" {
			t.Errorf("Expected K1ABC, got %+v", entries)
		}
	})

	t.Run("Offset Without Limit", func(t *testing.T) {
		entries, err := store.GetQSOs(QSOQuery{Offset: 2})
		if err != nil {
			t.Fatalf("GetQSOs failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Serial != 2 {
			t.Errorf("Expected only serial 2, got %+v", entries)
		}
	})

	t.Run("Since", func(t *testing.T) {
		since := time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC)
		entries, err := store.GetQSOs(QSOQuery{Since: &since})
		if err != nil {
			t.Fatalf("GetQSOs failed: %v", err)
		}
		if len(entries) != 2 {
			t.Errorf("Expected 2 entries, got %d", len(entries))
		}
	})
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveSnapshot(testSnapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	stats, err := store.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalQSOs != 3 {
		t.Errorf("Expected 3 QSOs, got %d", stats.TotalQSOs)
	}
	if stats.UniqueCalls != 2 {
		t.Errorf("Expected 2 unique calls, got %d", stats.UniqueCalls)
	}
	if stats.NextSerial != 4 {
		t.Errorf("Expected next serial 4, got %d", stats.NextSerial)
	}
	if !stats.LastQSO.Equal(time.Date(2024, 1, 1, 12, 2, 0, 0, time.UTC)) {
		t.Errorf("Unexpected last QSO time %v", stats.LastQSO)
	}
}
