package store

import (
	"context"
	"fmt"
	"time"
)

// WriteAudit appends e to the audit log.
func (s *SQLStore) WriteAudit(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	q := s.bind(`INSERT INTO audit_logs(action, user_id, trace_id, details, ip, user_agent, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		e.Action,
		e.UserID,
		e.TraceID,
		string(e.Details),
		e.IP,
		e.UserAgent,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// RecentAudit returns up to limit audit entries, newest first. An empty
// action matches every entry.
func (s *SQLStore) RecentAudit(ctx context.Context, action string, limit int) ([]AuditEntry, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	where := ""
	args := []any{}
	if action != "" {
		where = "WHERE action = ? "
		args = append(args, action)
	}
	q := s.bind(`SELECT id, action, user_id, trace_id, details, ip, user_agent, created_at
FROM audit_logs ` + where + `ORDER BY id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var (
			e       AuditEntry
			details string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &e.TraceID, &details, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if details != "" {
			e.Details = []byte(details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
