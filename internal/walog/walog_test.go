package walog

import (
	"path/filepath"
	"testing"
)

func TestWALAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	entries := []*Entry{
		{Op: OpInsert, Key: []byte("k1"), Value: []byte("naruto")},
		{Op: OpInsertOverwrite, TxnID: 1, Key: []byte("k2"), Value: []byte("sasuke")},
		{Op: OpErase, TxnID: 1, Key: []byte("k1")},
	}
	for _, e := range entries {
		if err := w.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if w.SyncCount() != len(entries) {
		t.Errorf("sync count = %d, want %d", w.SyncCount(), len(entries))
	}

	got, err := w.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("read %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if got[i].Op != e.Op || got[i].TxnID != e.TxnID || string(got[i].Key) != string(e.Key) || string(got[i].Value) != string(e.Value) {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], e)
		}
	}
}

func TestWALTruncateClearsLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	if err := w.Append(&Entry{Op: OpInsert, Key: []byte("k"), Value: []byte("v")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	got, err := w.ReadAll()
	if err != nil {
		t.Fatalf("read all after truncate: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("read %d entries after truncate, want 0", len(got))
	}
}

func TestWALSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.Append(&Entry{Op: OpInsert, Key: []byte("durable"), Value: []byte("value")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("read all after reopen: %v", err)
	}
	if len(got) != 1 || string(got[0].Key) != "durable" {
		t.Errorf("entries after reopen = %+v, want one entry keyed \"durable\"", got)
	}
}
