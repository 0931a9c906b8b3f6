package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

func TestValidationLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	l := NewValidationLogger(dir)
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return now }
	var closed []string
	l.OnClose(func(p string) { closed = append(closed, p) })

	entry := ValidationEntry{Structure: "demo:hut", Origin: model.Vec3i{X: 1, Y: 2, Z: 3}, Rotation: rotation.CW90, Valid: 3, Total: 4}
	if err := l.WriteValidation(entry); err != nil {
		t.Fatalf("write: %v", err)
	}
	entry.Valid, entry.Complete = 4, true
	if err := l.WriteValidation(entry); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := l.WriteValidation(entry); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := filepath.Join(dir, "validations-2024-05-01-10.jsonl.zst")
	second := filepath.Join(dir, "validations-2024-05-01-11.jsonl.zst")
	if len(closed) != 2 || closed[0] != first || closed[1] != second {
		t.Fatalf("closed=%v", closed)
	}
	for _, p := range []string{first, second} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}

	var got []ValidationEntry
	err := ReadJSONL(first, func(line []byte) error {
		var e ValidationEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[0].Rotation != rotation.CW90 || got[0].Origin != entry.Origin || got[0].Complete || !got[1].Complete {
		t.Fatalf("unexpected entries %+v", got)
	}
	if !got[0].Time.Equal(time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)) {
		t.Fatalf("time=%v", got[0].Time)
	}
}

func TestJSONLZstdWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "x")
		w.now = func() time.Time { return fixed }
		if err := w.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	n := 0
	if err := ReadJSONL(filepath.Join(dir, "x-2024-01-02-03.jsonl.zst"), func([]byte) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("lines=%d", n)
	}
}
