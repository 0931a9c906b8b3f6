package backup

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader stores one local file under a key. *S3 implements it.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	EnqueuedTotal   uint64 `json:"enqueued_total"`
	DroppedTotal    uint64 `json:"dropped_total"`
	UploadedTotal   uint64 `json:"uploaded_total"`
	FailedTotal     uint64 `json:"failed_total"`
	LastSuccessUnix int64  `json:"last_success_unix"`
}

type MirrorOptions struct {
	// Keys are the file's path relative to DataDir, under Prefix.
	DataDir string
	Prefix  string
	Workers int
	Queue   int
	// EnqueueWait bounds how long Enqueue blocks on a full queue.
	EnqueueWait time.Duration
	Attempts    int
	Logger      *log.Logger
}

// Mirror uploads files in the background. A nil *Mirror ignores every call.
type Mirror struct {
	up   Uploader
	opts MirrorOptions
	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	m := &Mirror{up: up, opts: opts, jobs: make(chan string, opts.Queue)}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It never blocks longer than
// EnqueueWait; files that do not fit are dropped and counted.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.printf("backup drop %s: queue full (dropped_total=%d)", localPath, n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(m.jobs),
		EnqueuedTotal:   m.enqueued.Load(),
		DroppedTotal:    m.dropped.Load(),
		UploadedTotal:   m.uploaded.Load(),
		FailedTotal:     m.failed.Load(),
		LastSuccessUnix: m.lastSuccess.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.Key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("backup skip %s: %v", localPath, err)
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			break
		}
		if attempt >= m.opts.Attempts {
			m.failed.Add(1)
			m.printf("backup upload %s failed: %v", key, err)
			return
		}
		time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
	}
	m.uploaded.Add(1)
	m.lastSuccess.Store(time.Now().Unix())
	m.printf("backup uploaded %s", key)
}

// Key maps a local path under DataDir to its object key.
func (m *Mirror) Key(localPath string) (string, error) {
	base, err := filepath.Abs(m.opts.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
