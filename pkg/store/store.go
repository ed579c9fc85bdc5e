// Package store is the event log, task projection, and transactional
// writer, backed by a single embedded SQLite file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/octoagent/gateway/pkg/gatewayerr"
	"github.com/octoagent/gateway/pkg/taskmodel"
)

// Store owns the single sqlite connection pool backing the event log, the
// task projection, and artifact metadata.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite file at path, applies pending
// migrations, and configures WAL journaling with a 5 second busy timeout —
// the storage properties this system's embedded-single-file model requires.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY from this process's own
	// goroutines contending with each other; cross-process contention is
	// still absorbed by busy_timeout below.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for components (the rebuilder, tests)
// that need direct transaction control.
func (s *Store) DB() *sql.DB { return s.db }

const timeFormat = time.RFC3339Nano

// CommitInitial writes a new task row plus its opening events in one
// transaction (§4.1 "task and its opening events commit atomically").
func (s *Store) CommitInitial(ctx context.Context, task taskmodel.Task, events []taskmodel.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, created_at, updated_at, status, title, thread_id,
			scope_id, requester_channel, requester_sender_id, risk_level, latest_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.CreatedAt.Format(timeFormat), task.UpdatedAt.Format(timeFormat),
		string(task.Status), task.Title, task.ThreadID, task.ScopeID,
		task.Requester.Channel, task.Requester.SenderID, string(task.RiskLevel), task.LatestEventID,
	); err != nil {
		return classifyConstraintError(err, task.ID)
	}

	for _, ev := range events {
		if err := insertEvent(ctx, tx, ev); err != nil {
			return classifyConstraintError(err, ev.TaskID)
		}
	}

	return tx.Commit()
}

// CommitTransition appends a STATE_TRANSITION (or any) event and updates
// the task's status, atomically, guarded by expectedStatus (§4.1 optimistic
// concurrency via expected_status).
func (s *Store) CommitTransition(ctx context.Context, ev taskmodel.Event, newStatus, expectedStatus taskmodel.TaskStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEvent(ctx, tx, ev); err != nil {
		return classifyConstraintError(err, ev.TaskID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, latest_event_id = ?
		WHERE task_id = ? AND status = ?`,
		string(newStatus), ev.Ts.Format(timeFormat), ev.ID, ev.TaskID, string(expectedStatus))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var actual string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE task_id = ?`, ev.TaskID).Scan(&actual); err != nil {
			if err == sql.ErrNoRows {
				return gatewayerr.ErrNotFound
			}
			return err
		}
		return &gatewayerr.StatusConflictError{TaskID: ev.TaskID, Expected: string(expectedStatus), Actual: actual}
	}

	return tx.Commit()
}

// CommitProgress appends an event that does not change task status, but
// still advances updated_at/latest_event_id (§4.1 progress commits).
func (s *Store) CommitProgress(ctx context.Context, ev taskmodel.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEvent(ctx, tx, ev); err != nil {
		return classifyConstraintError(err, ev.TaskID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET updated_at = ?, latest_event_id = ? WHERE task_id = ?`,
		ev.Ts.Format(timeFormat), ev.ID, ev.TaskID); err != nil {
		return err
	}

	return tx.Commit()
}

// ForceStatus updates a task's status directly with no accompanying
// event, guarded by expectedStatus. This is the last-resort path used
// when even a failure event could not be committed: it exists so a task
// can never be stuck in a non-terminal state purely because the event
// log write that would normally carry the transition also failed.
func (s *Store) ForceStatus(ctx context.Context, taskID string, newStatus, expectedStatus taskmodel.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
		string(newStatus), time.Now().Format(timeFormat), taskID, string(expectedStatus))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return gatewayerr.ErrNotFound
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev taskmodel.Event) error {
	var parentEventID, idempotencyKey any
	if ev.Causality.ParentEventID != "" {
		parentEventID = ev.Causality.ParentEventID
	}
	if ev.Causality.IdempotencyKey != "" {
		idempotencyKey = ev.Causality.IdempotencyKey
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, task_id, task_seq, ts, type, schema_version, actor,
			payload, trace_id, parent_event_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TaskID, ev.TaskSeq, ev.Ts.Format(timeFormat), string(ev.Type), ev.SchemaVersion,
		string(ev.Actor), string(ev.Payload), ev.TraceID, parentEventID, idempotencyKey)
	return err
}

// classifyConstraintError turns a sqlite UNIQUE-constraint violation into
// the typed conflict error the serializer and task service expect,
// matching the index names the migration declares.
func classifyConstraintError(err error, taskID string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "idx_events_task_seq") || strings.Contains(msg, "events.task_id, events.task_seq"):
		return &gatewayerr.SequenceConflictError{TaskID: taskID}
	case strings.Contains(msg, "idx_events_idempotency_key") || strings.Contains(msg, "events.idempotency_key"):
		return &gatewayerr.IdempotencyConflictError{Key: ""}
	default:
		return err
	}
}

// NextTaskSeq returns the task_seq the next event for taskID should use.
// Callers are expected to hold the per-task serialization lock (pkg
// serializer) around the read-then-insert sequence this enables.
func (s *Store) NextTaskSeq(ctx context.Context, taskID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(task_seq), 0) FROM events WHERE task_id = ?`, taskID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// EventsFor returns every event for a task, ordered by task_seq ascending.
func (s *Store) EventsFor(ctx context.Context, taskID string) ([]taskmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, task_id, task_seq, ts, type, schema_version, actor, payload,
			trace_id, parent_event_id, idempotency_key
		 FROM events WHERE task_id = ? ORDER BY task_seq ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events for taskID strictly after afterEventID,
// ordered by task_seq — used by the SSE hub's replay-then-live catch-up.
// ULID's lexicographic ordering makes event_id comparison equivalent to
// time ordering (§4.7).
func (s *Store) EventsAfter(ctx context.Context, taskID, afterEventID string) ([]taskmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, task_id, task_seq, ts, type, schema_version, actor, payload,
			trace_id, parent_event_id, idempotency_key
		 FROM events WHERE task_id = ? AND event_id > ? ORDER BY task_seq ASC`, taskID, afterEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// AllEventsOrdered returns every event in the log ordered by (task_id,
// task_seq), the replay order the projection rebuilder requires.
func (s *Store) AllEventsOrdered(ctx context.Context) ([]taskmodel.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, task_id, task_seq, ts, type, schema_version, actor, payload,
			trace_id, parent_event_id, idempotency_key
		 FROM events ORDER BY task_id ASC, task_seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]taskmodel.Event, error) {
	var out []taskmodel.Event
	for rows.Next() {
		var ev taskmodel.Event
		var ts string
		var payload string
		var parentEventID, idempotencyKey sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.TaskSeq, &ts, &ev.Type, &ev.SchemaVersion,
			&ev.Actor, &payload, &ev.TraceID, &parentEventID, &idempotencyKey); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event ts: %w", err)
		}
		ev.Ts = parsed
		ev.Payload = []byte(payload)
		ev.Causality = taskmodel.Causality{ParentEventID: parentEventID.String, IdempotencyKey: idempotencyKey.String}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FindByIdempotency reports whether an event with this idempotency_key has
// already been written, and if so, which task it belongs to.
func (s *Store) FindByIdempotency(ctx context.Context, key string) (taskID string, found bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT task_id FROM events WHERE idempotency_key = ? LIMIT 1`, key).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return taskID, true, nil
}

// GetTask returns the current projection row for taskID, or
// gatewayerr.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, taskID string) (*taskmodel.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, created_at, updated_at, status, title, thread_id, scope_id,
			requester_channel, requester_sender_id, risk_level, latest_event_id
		FROM tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, gatewayerr.ErrNotFound
	}
	return task, err
}

// ListTasks returns tasks ordered by created_at descending, optionally
// filtered to a single status (§6 task list operation).
func (s *Store) ListTasks(ctx context.Context, status *taskmodel.TaskStatus) ([]taskmodel.Task, error) {
	query := `SELECT task_id, created_at, updated_at, status, title, thread_id, scope_id,
			requester_channel, requester_sender_id, risk_level, latest_event_id
		FROM tasks`
	args := []any{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taskmodel.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*taskmodel.Task, error) {
	var t taskmodel.Task
	var createdAt, updatedAt, status, riskLevel string
	if err := row.Scan(&t.ID, &createdAt, &updatedAt, &status, &t.Title, &t.ThreadID, &t.ScopeID,
		&t.Requester.Channel, &t.Requester.SenderID, &riskLevel, &t.LatestEventID); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, err
	}
	t.Status = taskmodel.TaskStatus(status)
	t.RiskLevel = taskmodel.RiskLevel(riskLevel)
	return &t, nil
}

// RebuildProjection truncates the tasks table and repopulates it from
// already-replayed task rows, with foreign-key enforcement suspended for
// the duration (§4.9 offline projection rebuild).
func (s *Store) RebuildProjection(ctx context.Context, tasks []taskmodel.Task) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return err
	}
	defer func() { _, _ = s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}

	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (task_id, created_at, updated_at, status, title, thread_id,
				scope_id, requester_channel, requester_sender_id, risk_level, latest_event_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.CreatedAt.Format(timeFormat), task.UpdatedAt.Format(timeFormat),
			string(task.Status), task.Title, task.ThreadID, task.ScopeID,
			task.Requester.Channel, task.Requester.SenderID, string(task.RiskLevel), task.LatestEventID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PutArtifact inserts artifact metadata. Content (inline or spilled) must
// already be resolved by the caller (pkg/artifacts) before this is called.
func (s *Store) PutArtifact(ctx context.Context, a taskmodel.Artifact) error {
	parts, err := json.Marshal(a.Parts)
	if err != nil {
		return err
	}
	var storageRef any
	if a.StorageRef != "" {
		storageRef = a.StorageRef
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, task_id, ts, name, description, parts, storage_ref,
			size, sha256, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.Ts.Format(timeFormat), a.Name, a.Description, string(parts), storageRef,
		a.Size, a.SHA256, a.Version)
	return err
}

// GetArtifact returns artifact metadata by id, or gatewayerr.ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*taskmodel.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, task_id, ts, name, description, parts, storage_ref, size, sha256, version
		FROM artifacts WHERE artifact_id = ?`, artifactID)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, gatewayerr.ErrNotFound
	}
	return a, err
}

// ListArtifactsForTask returns every artifact for a task ordered by ts.
func (s *Store) ListArtifactsForTask(ctx context.Context, taskID string) ([]taskmodel.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, task_id, ts, name, description, parts, storage_ref, size, sha256, version
		FROM artifacts WHERE task_id = ? ORDER BY ts ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []taskmodel.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ArtifactStorageRefs returns every non-empty storage_ref currently
// referenced by the artifacts table, used by the orphan sweeper to avoid
// deleting files still owned by a row.
func (s *Store) ArtifactStorageRefs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT storage_ref FROM artifacts WHERE storage_ref IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]bool)
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs[ref] = true
	}
	return refs, rows.Err()
}

func scanArtifact(row scanner) (*taskmodel.Artifact, error) {
	var a taskmodel.Artifact
	var ts, parts string
	var storageRef sql.NullString
	if err := row.Scan(&a.ID, &a.TaskID, &ts, &a.Name, &a.Description, &parts, &storageRef,
		&a.Size, &a.SHA256, &a.Version); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(timeFormat, ts)
	if err != nil {
		return nil, err
	}
	a.Ts = parsed
	a.StorageRef = storageRef.String
	if err := json.Unmarshal([]byte(parts), &a.Parts); err != nil {
		return nil, err
	}
	return &a, nil
}
