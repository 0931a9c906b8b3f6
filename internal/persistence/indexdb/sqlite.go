// Package indexdb keeps a queryable SQLite index of loaded structures,
// load errors, session overlays and validation history. The JSONL audit
// log stays the source of truth for validations.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	plog "structcraft.ai/internal/persistence/log"
	"structcraft.ai/internal/sim/blocks"
	"structcraft.ai/internal/sim/model"
	"structcraft.ai/internal/sim/overlay"
	"structcraft.ai/internal/sim/rotation"
	"structcraft.ai/internal/sim/structure"
	"structcraft.ai/internal/sim/structure/registry"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan plog.ValidationEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropValidations atomic.Uint64
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropValidationTotal uint64 `json:"drop_validation_total"`
}

var _ overlay.Store = (*SQLiteIndex)(nil)

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan plog.ValidationEntry, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			entries INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS structures (
			id TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			source TEXT NOT NULL,
			size_x INTEGER NOT NULL,
			size_y INTEGER NOT NULL,
			size_z INTEGER NOT NULL,
			anchor_x INTEGER NOT NULL,
			anchor_y INTEGER NOT NULL,
			anchor_z INTEGER NOT NULL,
			count_air INTEGER NOT NULL,
			count_non_air INTEGER NOT NULL,
			count_null INTEGER NOT NULL,
			count_non_null INTEGER NOT NULL,
			loaded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS load_errors (
			path TEXT PRIMARY KEY,
			structure_id TEXT NOT NULL,
			message TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS overlays (
			session TEXT NOT NULL,
			id TEXT NOT NULL,
			structure_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			rotation INTEGER NOT NULL,
			layer INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			PRIMARY KEY (session, id)
		);`,
		`CREATE TABLE IF NOT EXISTS validations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			session TEXT NOT NULL,
			structure_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			rotation INTEGER NOT NULL,
			valid INTEGER NOT NULL,
			total INTEGER NOT NULL,
			complete INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_validations_structure ON validations(structure_id, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropValidationTotal: s.dropValidations.Load(),
	}
}

// WriteValidation queues a row. When the writer falls behind the row is
// dropped and counted.
func (s *SQLiteIndex) WriteValidation(e plog.ValidationEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropValidations.Add(1)
	}
	return nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// UpsertCatalogs records the block and tag catalog digests.
func (s *SQLiteIndex) UpsertCatalogs(reg *blocks.Registry) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	ts := now()
	rows := []struct {
		name    string
		digest  string
		entries int
	}{
		{"blocks", reg.BlocksDigest, len(reg.BlockIDs())},
		{"tags", reg.TagsDigest, len(reg.TagIDs())},
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,entries,updated_at) VALUES(?,?,?,?)`, r.name, r.digest, r.entries, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecordStructures replaces the structures and load_errors tables with
// the outcome of one load.
func (s *SQLiteIndex) RecordStructures(set registry.Set, loadErrs []registry.LoadError) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM structures`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM load_errors`); err != nil {
		return err
	}
	ts := now()
	stmt, err := tx.Prepare(`INSERT INTO structures(id,digest,source,size_x,size_y,size_z,anchor_x,anchor_y,anchor_z,count_air,count_non_air,count_null,count_non_null,loaded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, e := range set {
		t := e.Template
		size, anchor := t.Size(), t.Anchor()
		if _, err := stmt.Exec(id, e.Digest, e.Source,
			size.X, size.Y, size.Z,
			anchor.X, anchor.Y, anchor.Z,
			t.Count(structure.CategoryAir), t.Count(structure.CategoryNonAir),
			t.Count(structure.CategoryNull), t.Count(structure.CategoryNonNull),
			ts,
		); err != nil {
			return err
		}
	}
	for _, le := range loadErrs {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO load_errors(path,structure_id,message,recorded_at) VALUES(?,?,?,?)`, le.Path, le.ID, le.Err.Error(), ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type StructureRow struct {
	ID      string
	Digest  string
	Source  string
	Size    model.Vec3i
	Anchor  model.Vec3i
	NonNull int
}

func (s *SQLiteIndex) Structures() ([]StructureRow, error) {
	rows, err := s.db.Query(`SELECT id,digest,source,size_x,size_y,size_z,anchor_x,anchor_y,anchor_z,count_non_null FROM structures ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StructureRow
	for rows.Next() {
		var r StructureRow
		if err := rows.Scan(&r.ID, &r.Digest, &r.Source, &r.Size.X, &r.Size.Y, &r.Size.Z, &r.Anchor.X, &r.Anchor.Y, &r.Anchor.Z, &r.NonNull); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type LoadErrorRow struct {
	Path      string
	Structure string
	Message   string
}

func (s *SQLiteIndex) LoadErrors() ([]LoadErrorRow, error) {
	rows, err := s.db.Query(`SELECT path,structure_id,message FROM load_errors ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoadErrorRow
	for rows.Next() {
		var r LoadErrorRow
		if err := rows.Scan(&r.Path, &r.Structure, &r.Message); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveOverlays replaces the stored overlays of session.
func (s *SQLiteIndex) SaveOverlays(session string, list []overlay.Overlay) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM overlays WHERE session = ?`, session); err != nil {
		return err
	}
	for _, o := range list {
		if _, err := tx.Exec(`INSERT INTO overlays(session,id,structure_id,x,y,z,rotation,layer,completed_at) VALUES(?,?,?,?,?,?,?,?,?)`,
			session, o.ID, o.Structure, o.Origin.X, o.Origin.Y, o.Origin.Z, int(o.Rotation), o.Layer, o.CompletedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) LoadOverlays(session string) ([]overlay.Overlay, error) {
	rows, err := s.db.Query(`SELECT id,structure_id,x,y,z,rotation,layer,completed_at FROM overlays WHERE session = ? ORDER BY x,y,z`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []overlay.Overlay
	for rows.Next() {
		var o overlay.Overlay
		var rot int
		if err := rows.Scan(&o.ID, &o.Structure, &o.Origin.X, &o.Origin.Y, &o.Origin.Z, &rot, &o.Layer, &o.CompletedAt); err != nil {
			return nil, err
		}
		o.Rotation = rotation.Rotation(rot & 3)
		out = append(out, o)
	}
	return out, rows.Err()
}

type ValidationRow struct {
	Session   string
	Structure string
	Origin    model.Vec3i
	Rotation  rotation.Rotation
	Valid     int
	Total     int
	Complete  bool
}

// Validations returns the most recent rows for a structure, newest first.
func (s *SQLiteIndex) Validations(structureID string, limit int) ([]ValidationRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT session,structure_id,x,y,z,rotation,valid,total,complete FROM validations WHERE structure_id = ? ORDER BY seq DESC LIMIT ?`, structureID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValidationRow
	for rows.Next() {
		var r ValidationRow
		var rot, complete int
		if err := rows.Scan(&r.Session, &r.Structure, &r.Origin.X, &r.Origin.Y, &r.Origin.Z, &rot, &r.Valid, &r.Total, &complete); err != nil {
			return nil, err
		}
		r.Rotation = rotation.Rotation(rot & 3)
		r.Complete = complete != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, _ := s.db.Prepare(`INSERT INTO validations(at,session,structure_id,x,y,z,rotation,valid,total,complete) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for e := range s.ch {
		if insert == nil {
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		complete := 0
		if e.Complete {
			complete = 1
		}
		at := e.Time
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.Stmt(insert).Exec(at.UTC().Format(time.RFC3339Nano), e.Session, e.Structure,
			e.Origin.X, e.Origin.Y, e.Origin.Z, int(e.Rotation), e.Valid, e.Total, complete); err != nil {
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
