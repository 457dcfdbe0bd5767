package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"colegio.org/internal/audit"
)

func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) error {
	meta := []byte("{}")
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, action, entity, entity_id, user_id, ip_hash, request_id, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Action, rec.Entity, rec.EntityID, nullIfEmpty(rec.UserID), nullIfEmpty(rec.IPHash),
		nullIfEmpty(rec.RequestID), meta, rec.CreatedAt)
	return err
}

func (s *Store) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, value)
			where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	add("action", f.Action)
	add("entity", f.Entity)
	add("user_id", f.UserID)

	query := `select id, action, entity, entity_id, coalesce(user_id, ''), coalesce(ip_hash, ''),
		coalesce(request_id, ''), metadata, created_at
		from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" order by created_at desc, id desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		var (
			rec audit.Record
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Entity, &rec.EntityID, &rec.UserID, &rec.IPHash,
			&rec.RequestID, &raw, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
