package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"moba-arena/internal/sim/combat"
)

// DB persists combat outcomes and validation violations for post-match
// review. Writes are funneled through a single goroutine so the tick loop
// never waits on disk; a saturated queue drops the record and counts it.
type DB struct {
	db *sql.DB

	ch chan record
	wg sync.WaitGroup

	// mu orders producers against Close. Producers hold the read side for
	// the duration of their send, so Close cannot close ch between a
	// producer's liveness check and its send.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

type recordKind int

const (
	recordCombat recordKind = iota + 1
	recordViolation
	recordFlush
)

type record struct {
	kind recordKind

	tick      uint64
	combat    combat.Event
	violation Violation
	done      chan struct{}
}

// Violation is one rejected or clamped packet worth remembering.
type Violation struct {
	ClientID uint64
	Reason   string
	Seq      uint32
	Count    uint64
}

// Open creates or opens the journal database at path.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("journal: empty db path")
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

	j := &DB{
		db: db,
		// Sized for bursty combat ticks without stalling the simulation.
		ch: make(chan record, 8192),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only workload; NORMAL is enough durability for a
	// secondary record.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS combat_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			attacker_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			ability TEXT NOT NULL,
			raw_damage REAL NOT NULL,
			mitigated REAL NOT NULL,
			final_damage REAL NOT NULL,
			manual_aim INTEGER NOT NULL,
			rewind_offset REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_combat_events_tick ON combat_events(tick);`,
		`CREATE TABLE IF NOT EXISTS violations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			reason TEXT NOT NULL,
			seq INTEGER NOT NULL,
			total INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_violations_client ON violations(client_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordCombat enqueues a resolved combat event.
func (j *DB) RecordCombat(tick uint64, event combat.Event) {
	j.enqueue(record{kind: recordCombat, tick: tick, combat: event})
}

// RecordViolation enqueues a validation violation.
func (j *DB) RecordViolation(tick uint64, v Violation) {
	j.enqueue(record{kind: recordViolation, tick: tick, violation: v})
}

func (j *DB) enqueue(rec record) {
	if j == nil {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- rec:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded due to backpressure.
func (j *DB) Dropped() uint64 {
	if j == nil {
		return 0
	}
	return j.dropped.Load()
}

// Close drains the queue and closes the database. Safe to call more than
// once and concurrently with Record calls; late records are dropped.
func (j *DB) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.wg.Wait()
	return j.db.Close()
}

func (j *DB) loop() {
	for rec := range j.ch {
		switch rec.kind {
		case recordCombat:
			j.writeCombat(rec.tick, rec.combat)
		case recordViolation:
			j.writeViolation(rec.tick, rec.violation)
		case recordFlush:
			close(rec.done)
		}
	}
}

func (j *DB) writeCombat(tick uint64, event combat.Event) {
	_, _ = j.db.Exec(
		`INSERT INTO combat_events
			(tick, attacker_id, target_id, ability, raw_damage, mitigated, final_damage, manual_aim, rewind_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(tick), int64(event.AttackerID), int64(event.TargetID), event.Ability,
		event.RawDamage, event.Mitigated, event.FinalDamage, boolToInt(event.ManualAim), event.RewindOffset,
	)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (j *DB) writeViolation(tick uint64, v Violation) {
	_, _ = j.db.Exec(
		`INSERT INTO violations (tick, client_id, reason, seq, total) VALUES (?, ?, ?, ?, ?)`,
		int64(tick), int64(v.ClientID), v.Reason, int64(v.Seq), int64(v.Count),
	)
}

// CombatEventCount reports the persisted combat rows, used by diagnostics
// and tests.
func (j *DB) CombatEventCount() (int64, error) {
	if j == nil {
		return 0, nil
	}
	var count int64
	err := j.db.QueryRow(`SELECT COUNT(*) FROM combat_events`).Scan(&count)
	return count, err
}

// ViolationCount reports the persisted violation rows for one client.
func (j *DB) ViolationCount(clientID uint64) (int64, error) {
	if j == nil {
		return 0, nil
	}
	var count int64
	err := j.db.QueryRow(`SELECT COUNT(*) FROM violations WHERE client_id = ?`, int64(clientID)).Scan(&count)
	return count, err
}

// Flush blocks until every record enqueued so far has been written. Test
// helper; production code never waits on the journal.
func (j *DB) Flush() {
	if j == nil {
		return
	}
	done := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return
	}
	j.ch <- record{kind: recordFlush, done: done}
	j.mu.RUnlock()
	<-done
}
