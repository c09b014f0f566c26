package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"mossgov/internal/domain"
)

// AppendEvent stores an audit record and returns its id.
func (r Repo) AppendEvent(ctx context.Context, e domain.Event) (int64, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := marshalJSON(payload)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		fmtTime(e.TS), e.Type, e.EntityKind, nullable(e.EntityID), raw)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListEvents returns events with ids greater than f.AfterID in ascending order.
func (r Repo) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{f.AfterID}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e        domain.Event
			ts, raw  string
			entityID sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.EntityKind, &entityID, &raw); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		if e.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
