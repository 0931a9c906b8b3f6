// Package log writes durable, hourly-rotated, zstd-compressed JSONL
// records. It is not the process logger; binaries use the standard log
// package for that.
package log

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/rotation"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	// onClose, if set, receives each file once it is complete.
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnClose registers fn to be called with the path of every file the writer
// finishes, on rotation and on Close. fn runs with the writer locked.
func (w *JSONLZstdWriter) OnClose(fn func(path string)) {
	w.mu.Lock()
	w.onClose = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends v as one line. Lines reach disk in zstd blocks; a reader
// sees everything up to the last Flush or Close.
func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Flush pushes buffered lines through the compressor.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil {
			w.onClose(w.pathForHour(w.curHour))
		}
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadJSONL decodes every line of a .jsonl.zst file into fn. Files that
// were appended to across restarts hold several zstd frames; the decoder
// reads them in sequence.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	br := bufio.NewReader(dec)
	for {
		line, err := br.ReadBytes('\n')
		if l := bytes.TrimRight(line, "\r\n"); len(l) > 0 {
			if ferr := fn(l); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ValidationEntry records one validation request.
type ValidationEntry struct {
	Time      time.Time         `json:"time"`
	Session   string            `json:"session,omitempty"`
	Structure string            `json:"structure"`
	Origin    model.Vec3i       `json:"origin"`
	Rotation  rotation.Rotation `json:"rotation"`
	Valid     int               `json:"valid"`
	Total     int               `json:"total"`
	Complete  bool              `json:"complete"`
}

// ValidationLogger writes validations-YYYY-MM-DD-HH.jsonl.zst files.
type ValidationLogger struct{ w *JSONLZstdWriter }

func NewValidationLogger(auditDir string) *ValidationLogger {
	return &ValidationLogger{w: NewJSONLZstdWriter(auditDir, "validations")}
}

func (l *ValidationLogger) WriteValidation(v ValidationEntry) error {
	if v.Time.IsZero() {
		v.Time = l.w.now().UTC()
	}
	return l.w.Write(v)
}
func (l *ValidationLogger) OnClose(fn func(path string)) { l.w.OnClose(fn) }
func (l *ValidationLogger) Flush() error                 { return l.w.Flush() }
func (l *ValidationLogger) Close() error                 { return l.w.Close() }
