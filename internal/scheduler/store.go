// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
)

// Store persists jobs, checkpoints and resource locks in the orchestrator
// database. All state transitions are single-statement compare-and-swap
// updates, so concurrent workers can never double-own a job.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenStore opens (or creates) the orchestrator database at path.
func OpenStore(path string) (*Store, error) {
	conn, err := db.OpenRW(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(orchestratorSchema); err != nil {
		_ = conn.Close()
		return nil, db.WrapDBError("create orchestrator schema", err)
	}
	return &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

// NewStoreWithConn is used by tests.
func NewStoreWithConn(conn *sql.DB) (*Store, error) {
	if _, err := conn.Exec(orchestratorSchema); err != nil {
		return nil, db.WrapDBError("create orchestrator schema", err)
	}
	return &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

const jobColumns = `id, kind, payload_json, priority, resource, status, attempts, max_attempts,
	lease_owner, lease_utc, heartbeat_utc, created_utc, started_utc, ended_utc,
	error_code, error_msg, not_before_utc`

func scanJob(scan func(dest ...any) error) (Job, error) {
	var j Job
	var payload string
	var leaseOwner, leaseUTC, heartbeat, started, ended, errCode, errMsg, notBefore sql.NullString
	err := scan(&j.ID, &j.Kind, &payload, &j.Priority, &j.Resource, &j.Status,
		&j.Attempts, &j.MaxAttempts, &leaseOwner, &leaseUTC, &heartbeat,
		&j.CreatedUTC, &started, &ended, &errCode, &errMsg, &notBefore)
	if err != nil {
		return j, err
	}
	j.Payload = json.RawMessage(payload)
	assign := func(dst **string, src sql.NullString) {
		if src.Valid {
			v := src.String
			*dst = &v
		}
	}
	assign(&j.LeaseOwner, leaseOwner)
	assign(&j.LeaseUTC, leaseUTC)
	assign(&j.HeartbeatUTC, heartbeat)
	assign(&j.StartedUTC, started)
	assign(&j.EndedUTC, ended)
	assign(&j.ErrorCode, errCode)
	assign(&j.ErrorMsg, errMsg)
	assign(&j.NotBeforeUTC, notBefore)
	return j, nil
}

// Enqueue inserts a queued job. With Dedup set, an existing active job of
// the same kind suppresses the insert and is returned instead.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	payload := "{}"
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fault.Wrap(fault.Validation, "encode job payload", err)
		}
		payload = string(raw)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if req.Dedup {
		existing, err := s.activeJob(ctx, req.Kind)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := db.FormatUTC(s.now())
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO jobs (kind, payload_json, priority, resource, status, max_attempts, created_utc)
		 VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		req.Kind, payload, req.Priority, string(req.Resource), maxAttempts, now)
	if err != nil {
		return nil, db.WrapDBError("enqueue job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, db.WrapDBError("enqueue job", err)
	}
	s.appendEvent(ctx, id, "enqueued", req.Kind)
	return s.Job(ctx, id)
}

// activeJob finds a job of the kind still in {queued, leased, running}.
func (s *Store) activeJob(ctx context.Context, kind string) (*Job, error) {
	j, err := scanJob(s.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE kind = ? AND status IN ('queued','leased','running')
		 ORDER BY id LIMIT 1`, kind).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.WrapDBError("find active job", err)
	}
	return &j, nil
}

// HasActive reports whether any job of the kind is queued, leased or running.
func (s *Store) HasActive(ctx context.Context, kind string) (bool, error) {
	j, err := s.activeJob(ctx, kind)
	return j != nil, err
}

// Job fetches one job by id.
func (s *Store) Job(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(s.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, "job %d not found", id)
	}
	if err != nil {
		return nil, db.WrapDBError("get job", err)
	}
	return &j, nil
}

// Jobs lists jobs, newest first, optionally filtered by status.
func (s *Store) Jobs(ctx context.Context, status Status, limit int) ([]Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.WrapDBError("list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Job{}
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, db.WrapDBError("scan job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Lease claims the highest-priority queued job of the resource class for
// owner. Returns nil when nothing is claimable. The update is a CAS on
// status='queued', so two workers racing for the same job produce exactly
// one winner; the loser retries the next candidate.
func (s *Store) Lease(ctx context.Context, resource Resource, owner string) (*Job, error) {
	now := db.FormatUTC(s.now())
	for {
		var id int64
		err := s.conn.QueryRowContext(ctx,
			`SELECT id FROM jobs
			 WHERE status = 'queued' AND resource = ?
			   AND (not_before_utc IS NULL OR not_before_utc <= ?)
			 ORDER BY priority DESC, id LIMIT 1`, string(resource), now).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, db.WrapDBError("select leasable job", err)
		}

		res, err := s.conn.ExecContext(ctx,
			`UPDATE jobs SET status = 'leased', lease_owner = ?, lease_utc = ?, heartbeat_utc = ?
			 WHERE id = ? AND status = 'queued'`, owner, now, now, id)
		if err != nil {
			return nil, db.WrapDBError("lease job", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			s.appendEvent(ctx, id, "leased", owner)
			return s.Job(ctx, id)
		}
		// Lost the race; try the next candidate.
	}
}

// Start moves a leased job to running. Owner must still hold the lease.
func (s *Store) Start(ctx context.Context, id int64, owner string) error {
	now := db.FormatUTC(s.now())
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_utc = ?, heartbeat_utc = ?
		 WHERE id = ? AND status = 'leased' AND lease_owner = ?`, now, now, id, owner)
	if err != nil {
		return db.WrapDBError("start job", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.Newf(fault.Unavailable, "job %d no longer leased by %s", id, owner)
	}
	s.appendEvent(ctx, id, "started", owner)
	return nil
}

// Heartbeat refreshes the lease and reports the job's current status so the
// worker observes cancellation on its next beat.
func (s *Store) Heartbeat(ctx context.Context, id int64, owner string) (Status, error) {
	now := db.FormatUTC(s.now())
	_, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_utc = ?
		 WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`, now, id, owner)
	if err != nil {
		return "", db.WrapDBError("heartbeat", err)
	}
	var status string
	if err := s.conn.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&status); err != nil {
		return "", db.WrapDBError("heartbeat status", err)
	}
	return Status(status), nil
}

// Complete marks a running job done.
func (s *Store) Complete(ctx context.Context, id int64, owner string) error {
	now := db.FormatUTC(s.now())
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', ended_utc = ?, lease_owner = NULL
		 WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`, now, id, owner)
	if err != nil {
		return db.WrapDBError("complete job", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.Newf(fault.Unavailable, "job %d not owned by %s", id, owner)
	}
	s.appendEvent(ctx, id, "done", owner)
	return nil
}

// Fail records a failure. Below max_attempts the job is rescheduled with the
// given backoff; at the ceiling it becomes terminally failed.
func (s *Store) Fail(ctx context.Context, id int64, owner, code, msg string, backoff time.Duration) error {
	job, err := s.Job(ctx, id)
	if err != nil {
		return err
	}
	attempts := job.Attempts + 1
	now := s.now()

	if attempts < job.MaxAttempts {
		notBefore := db.FormatUTC(now.Add(backoff))
		res, err := s.conn.ExecContext(ctx,
			`UPDATE jobs SET status = 'queued', attempts = ?, lease_owner = NULL, lease_utc = NULL,
				error_code = ?, error_msg = ?, not_before_utc = ?
			 WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`,
			attempts, code, msg, notBefore, id, owner)
		if err != nil {
			return db.WrapDBError("requeue job", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fault.Newf(fault.Unavailable, "job %d not owned by %s", id, owner)
		}
		s.appendEvent(ctx, id, "requeued", msg)
		return nil
	}

	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', attempts = ?, ended_utc = ?, lease_owner = NULL,
			error_code = ?, error_msg = ?
		 WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`,
		attempts, db.FormatUTC(now), code, msg, id, owner)
	if err != nil {
		return db.WrapDBError("fail job", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.Newf(fault.Unavailable, "job %d not owned by %s", id, owner)
	}
	s.appendEvent(ctx, id, "failed", msg)
	return nil
}

// Postpone re-queues a leased job without counting an attempt, used when a
// gate (GPU readiness) rather than the job itself failed.
func (s *Store) Postpone(ctx context.Context, id int64, owner string, delay time.Duration, reason string) error {
	notBefore := db.FormatUTC(s.now().Add(delay))
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', lease_owner = NULL, lease_utc = NULL, not_before_utc = ?
		 WHERE id = ? AND lease_owner = ? AND status IN ('leased','running')`, notBefore, id, owner)
	if err != nil {
		return db.WrapDBError("postpone job", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fault.Newf(fault.Unavailable, "job %d not owned by %s", id, owner)
	}
	s.appendEvent(ctx, id, "postponed", reason)
	return nil
}

// Cancel requests cancellation. Queued jobs cancel immediately; leased and
// running jobs keep their owner, which observes the status on its next
// heartbeat and stops.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	now := db.FormatUTC(s.now())
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'cancelled', ended_utc = ?
		 WHERE id = ? AND status IN ('queued','leased','running')`, now, id)
	if err != nil {
		return db.WrapDBError("cancel job", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		job, err := s.Job(ctx, id)
		if err != nil {
			return err
		}
		return fault.Newf(fault.Validation, "job %d is %s and cannot be cancelled", id, job.Status)
	}
	s.appendEvent(ctx, id, "cancelled", "")
	return nil
}

// Reap returns jobs with expired heartbeats to the queue. The CAS on the
// stale heartbeat value makes reclaims idempotent: a job goes back to queued
// exactly once per expiry.
func (s *Store) Reap(ctx context.Context, leaseTTL time.Duration) (int64, error) {
	cutoff := db.FormatUTC(s.now().Add(-leaseTTL))
	res, err := s.conn.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', lease_owner = NULL, lease_utc = NULL, heartbeat_utc = NULL
		 WHERE status IN ('leased','running') AND heartbeat_utc IS NOT NULL AND heartbeat_utc < ?`, cutoff)
	if err != nil {
		return 0, db.WrapDBError("reap leases", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveCheckpoint upserts the job's progress snapshot.
func (s *Store) SaveCheckpoint(ctx context.Context, jobID int64, ckpt any) error {
	raw, err := json.Marshal(ckpt)
	if err != nil {
		return fault.Wrap(fault.Validation, "encode checkpoint", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO job_checkpoints (job_id, ckpt_json, updated_utc) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET ckpt_json = excluded.ckpt_json, updated_utc = excluded.updated_utc`,
		jobID, string(raw), db.FormatUTC(s.now()))
	if err != nil {
		return db.WrapDBError("save checkpoint", err)
	}
	return nil
}

// Checkpoint loads the last saved snapshot, nil when none exists.
func (s *Store) Checkpoint(ctx context.Context, jobID int64) (json.RawMessage, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT ckpt_json FROM job_checkpoints WHERE job_id = ?`, jobID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.WrapDBError("load checkpoint", err)
	}
	return json.RawMessage(raw), nil
}

// AcquireLock takes the named resource lock when it is free, expired, or
// already held by the same owner. Returns false when another owner holds it.
func (s *Store) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := db.FormatUTC(s.now())
	ttlSec := int(ttl / time.Second)

	// Expiry honours the ttl recorded with the held lock, not the new one.
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO resource_locks (name, owner, lease_utc, ttl_sec) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, lease_utc = excluded.lease_utc, ttl_sec = excluded.ttl_sec
		WHERE resource_locks.owner IS NULL
		   OR resource_locks.owner = excluded.owner
		   OR strftime('%Y-%m-%dT%H:%M:%SZ', resource_locks.lease_utc, '+' || resource_locks.ttl_sec || ' seconds') < ?`,
		name, owner, now, ttlSec, now)
	if err != nil {
		return false, db.WrapDBError("acquire lock", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseLock frees the lock when owner holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE resource_locks SET owner = NULL, lease_utc = NULL WHERE name = ? AND owner = ?`,
		name, owner)
	if err != nil {
		return db.WrapDBError("release lock", err)
	}
	return nil
}

// Setting reads one orchestrator setting, ok=false when absent.
func (s *Store) Setting(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value_json FROM orchestrator_settings WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, db.WrapDBError("read setting", err)
	}
	return true, json.Unmarshal([]byte(raw), dst)
}

// SetSetting upserts one orchestrator setting.
func (s *Store) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fault.Wrap(fault.Validation, "encode setting", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO orchestrator_settings (key, value_json, updated_utc) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_utc = excluded.updated_utc`,
		key, string(raw), db.FormatUTC(s.now()))
	if err != nil {
		return db.WrapDBError("write setting", err)
	}
	return nil
}

// appendEvent records a job transition. Best-effort: the audit row is never
// allowed to fail the transition itself.
func (s *Store) appendEvent(ctx context.Context, jobID int64, event, detail string) {
	_, _ = s.conn.ExecContext(ctx,
		`INSERT INTO job_events (job_id, ts_utc, event, detail) VALUES (?, ?, ?, ?)`,
		jobID, db.FormatUTC(s.now()), event, detail)
}
