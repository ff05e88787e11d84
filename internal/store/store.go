package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/simage-ai/convoengine/internal/apperror"
)

// Store wraps a pgx connection pool with the engine's query surface. One
// Store is constructed per process and shared across handlers/workers; pgx
// pools are themselves safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Open connects to dsn with the given max pool size.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return New(pool), nil
}

func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool for collaborators that need
// raw access alongside the Store's own query surface (e.g. tools.Context's
// database capability).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// --- Jobs ---------------------------------------------------------------

// CreateJob inserts a new pending job.
func (s *Store) CreateJob(ctx context.Context, projectID, threadID, question string, contextOnly bool) (*Job, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, project_id, thread_id, status, question, context_only, partial_response, poll_watermark, created_at)
		VALUES ($1, $2, $3, 'pending', $4, $5, '', $6, $6)`,
		id, projectID, threadID, question, contextOnly, now)
	if err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob loads one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, thread_id, status, question, context_only, partial_response,
		       assistant_turn_id, poll_watermark, started_at, completed_at, duration_ms,
		       input_tokens, output_tokens, error_message, created_at
		FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	if err := row.Scan(&j.ID, &j.ProjectID, &j.ThreadID, &j.Status, &j.Question, &j.ContextOnly,
		&j.PartialResponse, &j.AssistantTurnID, &j.PollWatermark, &j.StartedAt, &j.CompletedAt,
		&j.DurationMS, &j.InputTokens, &j.OutputTokens, &j.ErrorMessage, &j.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "job not found")
		}
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	return &j, nil
}

// ActiveJobForThread returns the latest non-terminal job on a thread, or
// nil if none exists.
func (s *Store) ActiveJobForThread(ctx context.Context, threadID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, thread_id, status, question, context_only, partial_response,
		       assistant_turn_id, poll_watermark, started_at, completed_at, duration_ms,
		       input_tokens, output_tokens, error_message, created_at
		FROM jobs WHERE thread_id = $1 AND status IN ('pending','running')
		ORDER BY created_at DESC LIMIT 1`, threadID)
	j, err := scanJob(row)
	if apperror.KindOf(err) == apperror.KindNotFound {
		return nil, nil
	}
	return j, err
}

// PendingJobIDs returns up to limit pending job ids across every project,
// oldest first, for a standalone worker process polling for work in the
// absence of a broker.
func (s *Store) PendingJobIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list pending jobs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan pending job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveJobsForProject returns every non-terminal job in a project, for the
// sidebar endpoint.
func (s *Store) ActiveJobsForProject(ctx context.Context, projectID string) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, thread_id, status, question, context_only, partial_response,
		       assistant_turn_id, poll_watermark, started_at, completed_at, duration_ms,
		       input_tokens, output_tokens, error_message, created_at
		FROM jobs WHERE project_id = $1 AND status IN ('pending','running')
		ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list active jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// StartJob CAS-transitions pending -> running. ok is false if the job was
// not in pending status (idempotent no-op, per "start is idempotent").
func (s *Store) StartJob(ctx context.Context, id string) (ok bool, err error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return false, fmt.Errorf("store: start job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendProgress appends to partial_response of a running job, used by the
// worker's throttled checkpoint cadence and the inline streaming endpoint's
// progress call. It does not touch poll_watermark, which only observers
// (see TouchPollWatermark) move.
func (s *Store) AppendProgress(ctx context.Context, id, deltaContent string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET partial_response = partial_response || $2 WHERE id = $1 AND status = 'running'`, id, deltaContent)
	if err != nil {
		return fmt.Errorf("store: append progress: %w", err)
	}
	return nil
}

// TouchPollWatermark records that an observer (HTTP poll or WS subscriber
// attach) looked at this job just now. poll_watermark is monotonic
// non-decreasing; callers never need to pass an explicit value.
func (s *Store) TouchPollWatermark(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET poll_watermark = GREATEST(poll_watermark, $2) WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("store: touch poll watermark: %w", err)
	}
	return nil
}

// CompleteJob CAS-transitions running -> completed, linking the new
// assistant turn and recording final accounting, in one transaction so the
// turn insert and job update are atomic.
func (s *Store) CompleteJob(ctx context.Context, id, finalContent string, sourcesJSON, toolCallsJSON []byte, inputTokens, outputTokens int) (turnID string, ok bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var threadID string
	var startedAt *time.Time
	if err := tx.QueryRow(ctx, `SELECT thread_id, started_at FROM jobs WHERE id = $1 AND status = 'running' FOR UPDATE`, id).Scan(&threadID, &startedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: lock job: %w", err)
	}

	turnID = uuid.NewString()
	now := time.Now()
	if _, err := tx.Exec(ctx, `
		INSERT INTO turns (id, thread_id, role, content, sources_json, tool_calls_json, created_at)
		VALUES ($1, $2, 'assistant', $3, $4, $5, $6)`, turnID, threadID, finalContent, sourcesJSON, toolCallsJSON, now); err != nil {
		return "", false, fmt.Errorf("store: insert assistant turn: %w", err)
	}

	var durationMS int64
	if startedAt != nil {
		durationMS = now.Sub(*startedAt).Milliseconds()
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'completed', assistant_turn_id = $2, partial_response = $3,
		       completed_at = $4, duration_ms = $5, input_tokens = $6, output_tokens = $7
		WHERE id = $1 AND status = 'running'`,
		id, turnID, finalContent, now, durationMS, inputTokens, outputTokens)
	if err != nil {
		return "", false, fmt.Errorf("store: complete job: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return "", false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("store: commit: %w", err)
	}
	return turnID, true, nil
}

// FailJob CAS-transitions running (or pending) -> failed.
func (s *Store) FailJob(ctx context.Context, id, reason string) (ok bool, err error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error_message = $2, completed_at = $3
		WHERE id = $1 AND status IN ('pending','running')`, id, reason, now)
	if err != nil {
		return false, fmt.Errorf("store: fail job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelJob CAS-transitions any non-terminal status -> cancelled.
func (s *Store) CancelJob(ctx context.Context, id string) (ok bool, err error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status IN ('pending','running')`, id, now)
	if err != nil {
		return false, fmt.Errorf("store: cancel job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Projects --------------------------------------------------------------

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, system_instructions, last_thread_id, created_at FROM projects WHERE id = $1`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.UserID, &p.SystemInstructions, &p.LastThreadID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "project not found")
		}
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	return &p, nil
}

// --- Threads & turns ------------------------------------------------------

// GetThread loads a thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, parent_thread_id, parent_turn_id, context_text, title, deleted_at, created_at
		FROM threads WHERE id = $1`, id)
	var t Thread
	if err := row.Scan(&t.ID, &t.ProjectID, &t.ParentThreadID, &t.ParentTurnID, &t.ContextText, &t.Title, &t.DeletedAt, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.New(apperror.KindNotFound, "thread not found")
		}
		return nil, fmt.Errorf("store: scan thread: %w", err)
	}
	return &t, nil
}

// AncestorChain walks parent_thread_id up to maxDepth levels, starting at
// the immediate parent, grounding the subthread context walk (§4.3.2).
func (s *Store) AncestorChain(ctx context.Context, threadID string, maxDepth int) ([]*Thread, error) {
	var out []*Thread
	current, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	for i := 0; i < maxDepth && current.ParentThreadID != nil; i++ {
		parent, err := s.GetThread(ctx, *current.ParentThreadID)
		if err != nil {
			break
		}
		out = append(out, parent)
		current = parent
	}
	return out, nil
}

// RecentTurns returns the most recent n turns of a thread in chronological
// order, for the Agent Loop's transcript and for the subthread parent-turn
// excerpt.
func (s *Store) RecentTurns(ctx context.Context, threadID string, n int) ([]*Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, thread_id, role, content, sources_json, tool_calls_json, created_at
		FROM turns WHERE thread_id = $1 ORDER BY created_at DESC LIMIT $2`, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent turns: %w", err)
	}
	defer rows.Close()
	var out []*Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Role, &t.Content, &t.SourcesJSON, &t.ToolCallsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CreateUserTurn persists the user's utterance before the job begins.
func (s *Store) CreateUserTurn(ctx context.Context, threadID, content string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO turns (id, thread_id, role, content, created_at) VALUES ($1, $2, 'user', $3, $4)`,
		id, threadID, content, time.Now())
	if err != nil {
		return "", fmt.Errorf("store: create user turn: %w", err)
	}
	return id, nil
}

// --- Resources -------------------------------------------------------------

// ResourcesForProject returns the flat resource projection for a project.
func (s *Store) ResourcesForProject(ctx context.Context, projectID string) ([]*Resource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, name, type, status, summary, file_path, row_count, columns_json, width, height, created_at
		FROM resources WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list resources: %w", err)
	}
	defer rows.Close()
	var out []*Resource
	for rows.Next() {
		var r Resource
		var columnsJSON []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Type, &r.Status, &r.Summary, &r.FilePath, &r.RowCount, &columnsJSON, &r.Width, &r.Height, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan resource: %w", err)
		}
		if len(columnsJSON) > 0 {
			_ = json.Unmarshal(columnsJSON, &r.Columns)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Notifications -----------------------------------------------------

// CreateNotification inserts a notification (see SPEC_FULL §4.7).
func (s *Store) CreateNotification(ctx context.Context, n Notification) (*Notification, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, project_id, thread_id, job_id, kind, title, body, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		id, n.ProjectID, n.ThreadID, n.JobID, n.Kind, n.Title, n.Body, now)
	if err != nil {
		return nil, fmt.Errorf("store: create notification: %w", err)
	}
	n.ID, n.CreatedAt = id, now
	return &n, nil
}

// ListNotifications lists notifications for a project, newest first.
func (s *Store) ListNotifications(ctx context.Context, projectID string, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `
		SELECT id, project_id, thread_id, job_id, kind, title, body, read, read_at, created_at
		FROM notifications WHERE project_id = $1`
	if unreadOnly {
		query += ` AND read = false`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list notifications: %w", err)
	}
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.ThreadID, &n.JobID, &n.Kind, &n.Title, &n.Body, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// UnreadNotificationCount returns the badge count for a project.
func (s *Store) UnreadNotificationCount(ctx context.Context, projectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE project_id = $1 AND read = false`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	return n, nil
}

// MarkNotificationRead marks a single notification read.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true, read_at = $2 WHERE id = $1`, id, time.Now())
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification in a project read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET read = true, read_at = $2 WHERE project_id = $1 AND read = false`, projectID, time.Now())
	if err != nil {
		return fmt.Errorf("store: mark all read: %w", err)
	}
	return nil
}

// DeleteNotification deletes one notification.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete notification: %w", err)
	}
	return nil
}

// --- Findings ------------------------------------------------------------

// CreateFinding persists a finding scoped to a project and thread.
func (s *Store) CreateFinding(ctx context.Context, projectID, threadID, content, note string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO findings (id, project_id, thread_id, content, note, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, projectID, threadID, content, note, time.Now())
	if err != nil {
		return "", fmt.Errorf("store: create finding: %w", err)
	}
	return id, nil
}
