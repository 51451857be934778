package db

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
	"github.com/natefinch/atomic"
)

// SnapshotVersion is written to the meta line of every export.
const SnapshotVersion = 1

type rowScanner = interface{ Scan(...any) error }

// ExportSnapshot writes every record as one JSON object per line, parents
// before children, and replaces path atomically.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	var buf bytes.Buffer
	if err := db.WriteSnapshot(ctx, &buf); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// WriteSnapshot streams the JSONL snapshot to w.
func (db *DB) WriteSnapshot(ctx context.Context, w io.Writer) error {
	enc := &recordWriter{w: w}
	enc.write("meta", struct {
		Version    int       `json:"version"`
		ExportedAt time.Time `json:"exported_at"`
	}{SnapshotVersion, db.now()})

	exportRows(ctx, db, enc, "user", `SELECT id, email, full_name, created_at FROM users ORDER BY created_at, id`,
		func(r rowScanner) (*models.User, error) {
			u := &models.User{}
			return u, r.Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
		})
	exportRows(ctx, db, enc, "workspace", `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at, id`, scanWorkspace)
	exportRows(ctx, db, enc, "member", `SELECT workspace_id, user_id, role, joined_at FROM members ORDER BY workspace_id, user_id`,
		func(r rowScanner) (*models.Member, error) {
			m := &models.Member{}
			return m, r.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt)
		})
	exportRows(ctx, db, enc, "invitation", `SELECT `+invitationColumns+` FROM invitations ORDER BY created_at, id`, scanInvitation)
	exportRows(ctx, db, enc, "project", `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`, scanProject)
	exportRows(ctx, db, enc, "board_column", `SELECT project_id, status, position, wip_limit FROM board_columns ORDER BY project_id, position`,
		func(r rowScanner) (*models.BoardColumn, error) {
			c := &models.BoardColumn{}
			return c, r.Scan(&c.ProjectID, &c.Status, &c.Position, &c.WIPLimit)
		})
	exportRows(ctx, db, enc, "sprint", `SELECT `+sprintColumns+` FROM sprints ORDER BY start_date, id`, scanSprint)
	exportRows(ctx, db, enc, "task", `SELECT `+taskColumns+taskFrom+` ORDER BY t.created_at, t.id`, scanTask)
	exportRows(ctx, db, enc, "blocker", `SELECT task_id, blocked_by_task_id FROM blockers ORDER BY task_id, blocked_by_task_id`,
		func(r rowScanner) (*models.Blocker, error) {
			b := &models.Blocker{}
			return b, r.Scan(&b.TaskID, &b.BlockedByTaskID)
		})
	exportRows(ctx, db, enc, "history", `SELECT `+historyColumns+` FROM task_history h ORDER BY h.created_at, h.rowid`,
		func(r rowScanner) (*models.HistoryEvent, error) {
			e := &models.HistoryEvent{}
			return e, r.Scan(&e.ID, &e.TaskID, &e.ActorID, &e.Action, &e.OldValue, &e.NewValue, &e.CreatedAt)
		})
	exportRows(ctx, db, enc, "comment", `SELECT id, task_id, author_id, body, created_at, updated_at FROM comments ORDER BY created_at, rowid`,
		func(r rowScanner) (*models.Comment, error) {
			c := &models.Comment{}
			return c, r.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
		})
	exportRows(ctx, db, enc, "notification", `SELECT id, user_id, actor_id, type, task_id, comment_id, message, read, created_at FROM notifications ORDER BY created_at, rowid`,
		func(r rowScanner) (*models.Notification, error) {
			n := &models.Notification{}
			return n, r.Scan(&n.ID, &n.UserID, &n.ActorID, &n.Type, &n.TaskID, &n.CommentID, &n.Message, &n.Read, &n.CreatedAt)
		})

	return enc.err
}

// recordWriter writes JSONL records and remembers the first error.
type recordWriter struct {
	w   io.Writer
	err error
}

func (rw *recordWriter) write(recordType string, v any) {
	if rw.err != nil {
		return
	}
	line, err := encodeRecord(recordType, v)
	if err != nil {
		rw.err = err
		return
	}
	if _, err := rw.w.Write(append(line, '\n')); err != nil {
		rw.err = fmt.Errorf("failed to write snapshot line: %w", err)
	}
}

// encodeRecord marshals v and prepends a record_type field to the object.
func encodeRecord(recordType string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", recordType, err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s record is not a JSON object", recordType)
	}
	line := fmt.Appendf(nil, `{"record_type":%q`, recordType)
	if len(body) > 2 {
		line = append(line, ',')
	}
	return append(line, body[1:]...), nil
}

func exportRows[T any](ctx context.Context, db *DB, rw *recordWriter, recordType, query string, scan func(rowScanner) (T, error)) {
	if rw.err != nil {
		return
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		rw.err = fmt.Errorf("failed to query %s records: %w", recordType, err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			rw.err = fmt.Errorf("failed to scan %s record: %w", recordType, err)
			return
		}
		rw.write(recordType, v)
		if rw.err != nil {
			return
		}
	}
	if err := rows.Err(); err != nil {
		rw.err = fmt.Errorf("rows error: %w", err)
	}
}

// ImportSnapshot reads a JSONL snapshot and upserts every record by id in
// one transaction. History events already present are left untouched.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	return db.ReadSnapshot(ctx, file)
}

// ReadSnapshot is ImportSnapshot over an arbitrary reader.
func (db *DB) ReadSnapshot(ctx context.Context, r io.Reader) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var base struct {
				RecordType string `json:"record_type"`
			}
			if err := json.Unmarshal(line, &base); err != nil {
				return fmt.Errorf("line %d: failed to unmarshal base record: %w", lineNo, err)
			}

			if err := importRecord(ctx, tx, base.RecordType, line); err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scanner error: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "snapshot", "")
	return nil
}

func importRecord(ctx context.Context, tx *sql.Tx, recordType string, line []byte) error {
	switch recordType {
	case "meta":
		var meta struct {
			Version int `json:"version"`
		}
		if err := json.Unmarshal(line, &meta); err != nil {
			return fmt.Errorf("failed to unmarshal meta: %w", err)
		}
		if meta.Version > SnapshotVersion {
			return fmt.Errorf("unsupported snapshot version %d", meta.Version)
		}
		return nil

	case "user":
		return upsert(ctx, tx, line, func(u *models.User) (string, []any) {
			return `INSERT INTO users (id, email, full_name, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET email = excluded.email, full_name = excluded.full_name`,
				[]any{u.ID, u.Email, u.FullName, u.CreatedAt.UTC()}
		})

	case "workspace":
		return upsert(ctx, tx, line, func(w *models.Workspace) (string, []any) {
			return `INSERT INTO workspaces (id, name, slug, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, slug = excluded.slug,
					owner_id = excluded.owner_id, updated_at = excluded.updated_at`,
				[]any{w.ID, w.Name, w.Slug, w.OwnerID, w.CreatedAt.UTC(), w.UpdatedAt.UTC()}
		})

	case "member":
		return upsert(ctx, tx, line, func(m *models.Member) (string, []any) {
			return `INSERT INTO members (workspace_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
				[]any{m.WorkspaceID, m.UserID, m.Role, m.JoinedAt.UTC()}
		})

	case "invitation":
		return upsert(ctx, tx, line, func(inv *models.Invitation) (string, []any) {
			return `INSERT INTO invitations (id, workspace_id, email, role, token, status, invited_by, expires_at, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET role = excluded.role, status = excluded.status, expires_at = excluded.expires_at`,
				[]any{inv.ID, inv.WorkspaceID, inv.Email, inv.Role, inv.Token, inv.Status, inv.InvitedBy, inv.ExpiresAt.UTC(), inv.CreatedAt.UTC()}
		})

	case "project":
		return upsert(ctx, tx, line, func(p *models.Project) (string, []any) {
			return `INSERT INTO projects (id, workspace_id, key, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET key = excluded.key, name = excluded.name,
					description = excluded.description, updated_at = excluded.updated_at`,
				[]any{p.ID, p.WorkspaceID, p.Key, p.Name, p.Description, p.CreatedAt.UTC(), p.UpdatedAt.UTC()}
		})

	case "board_column":
		return upsert(ctx, tx, line, func(c *models.BoardColumn) (string, []any) {
			return `INSERT INTO board_columns (project_id, status, position, wip_limit) VALUES (?, ?, ?, ?)
				ON CONFLICT (project_id, status) DO UPDATE SET position = excluded.position, wip_limit = excluded.wip_limit`,
				[]any{c.ProjectID, c.Status, c.Position, c.WIPLimit}
		})

	case "sprint":
		return upsert(ctx, tx, line, func(s *models.Sprint) (string, []any) {
			return `INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, goal = excluded.goal, status = excluded.status,
					start_date = excluded.start_date, end_date = excluded.end_date`,
				[]any{s.ID, s.ProjectID, s.Name, s.Goal, s.Status, s.StartDate.UTC(), s.EndDate.UTC(), s.CreatedAt.UTC()}
		})

	case "task":
		return upsert(ctx, tx, line, func(t *models.Task) (string, []any) {
			return `INSERT INTO tasks (
					id, project_id, sprint_id, title, description, status, priority,
					assignee_id, reporter_id, story_points, due_date, position,
					created_at, updated_at, completed_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					sprint_id = excluded.sprint_id, title = excluded.title, description = excluded.description,
					status = excluded.status, priority = excluded.priority, assignee_id = excluded.assignee_id,
					story_points = excluded.story_points, due_date = excluded.due_date, position = excluded.position,
					updated_at = excluded.updated_at, completed_at = excluded.completed_at`,
				[]any{t.ID, t.ProjectID, t.SprintID, t.Title, t.Description, t.Status, t.Priority,
					t.AssigneeID, t.ReporterID, t.StoryPoints, utcPtr(t.DueDate), t.Position,
					t.CreatedAt.UTC(), t.UpdatedAt.UTC(), utcPtr(t.CompletedAt)}
		})

	case "blocker":
		return upsert(ctx, tx, line, func(b *models.Blocker) (string, []any) {
			return `INSERT INTO blockers (task_id, blocked_by_task_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				[]any{b.TaskID, b.BlockedByTaskID}
		})

	case "history":
		return upsert(ctx, tx, line, func(e *models.HistoryEvent) (string, []any) {
			return `INSERT INTO task_history (id, task_id, actor_id, action, old_value, new_value, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
				[]any{e.ID, e.TaskID, e.ActorID, e.Action, e.OldValue, e.NewValue, e.CreatedAt.UTC()}
		})

	case "comment":
		return upsert(ctx, tx, line, func(c *models.Comment) (string, []any) {
			return `INSERT INTO comments (id, task_id, author_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
				[]any{c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt.UTC(), c.UpdatedAt.UTC()}
		})

	case "notification":
		return upsert(ctx, tx, line, func(n *models.Notification) (string, []any) {
			return `INSERT INTO notifications (id, user_id, actor_id, type, task_id, comment_id, message, read, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET read = excluded.read`,
				[]any{n.ID, n.UserID, n.ActorID, n.Type, n.TaskID, n.CommentID, n.Message, n.Read, n.CreatedAt.UTC()}
		})
	}

	return fmt.Errorf("unknown record type %q", recordType)
}

func upsert[T any](ctx context.Context, tx *sql.Tx, line []byte, stmt func(*T) (string, []any)) error {
	v := new(T)
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	query, args := stmt(v)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to import %T: %w", v, err)
	}
	return nil
}
