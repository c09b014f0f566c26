package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"mossgov/internal/domain"
)

func scanPipelineContext(row scanner) (domain.PipelineContext, error) {
	var (
		pc  domain.PipelineContext
		raw string
	)
	if err := row.Scan(&raw); err != nil {
		return pc, notFound(err)
	}
	err := json.Unmarshal([]byte(raw), &pc)
	return pc, err
}

func (r Repo) InsertPipelineContext(ctx context.Context, pc domain.PipelineContext) error {
	raw, err := marshalJSON(pc)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO pipeline_contexts(id,proposal_id,status,stage,context_json,started_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		pc.ID, pc.ProposalID, pc.Status, pc.Stage, raw, fmtTime(pc.StartedAt), fmtTime(pc.UpdatedAt))
	return uniqueViolation(err)
}

func (r Repo) SavePipelineContext(ctx context.Context, pc domain.PipelineContext) error {
	raw, err := marshalJSON(pc)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE pipeline_contexts SET status=?,stage=?,context_json=?,updated_at=? WHERE id=?`,
		pc.Status, pc.Stage, raw, fmtTime(pc.UpdatedAt), pc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetPipelineContext(ctx context.Context, id string) (domain.PipelineContext, error) {
	return scanPipelineContext(r.DB.QueryRowContext(ctx, `SELECT context_json FROM pipeline_contexts WHERE id=?`, id))
}

func (r Repo) ListPipelineContexts(ctx context.Context, status domain.PipelineStatus) ([]domain.PipelineContext, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.DB.QueryContext(ctx, `SELECT context_json FROM pipeline_contexts ORDER BY started_at, id`)
	} else {
		rows, err = r.DB.QueryContext(ctx, `SELECT context_json FROM pipeline_contexts WHERE status=? ORDER BY started_at, id`, status)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PipelineContext
	for rows.Next() {
		pc, err := scanPipelineContext(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, pc)
	}
	return res, rows.Err()
}

func (r Repo) InsertLockedAction(ctx context.Context, la domain.LockedAction) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO locked_actions(id,proposal_id,action_type,description,created_at) VALUES (?,?,?,?,?)`,
		la.ID, la.ProposalID, la.ActionType, nullable(la.Description), fmtTime(la.CreatedAt))
	return uniqueViolation(err)
}

func (r Repo) GetLockedAction(ctx context.Context, id string) (domain.LockedAction, error) {
	return r.getLockedAction(ctx, `WHERE id=?`, id)
}

func (r Repo) GetLockedActionByProposal(ctx context.Context, proposalID string) (domain.LockedAction, error) {
	return r.getLockedAction(ctx, `WHERE proposal_id=?`, proposalID)
}

func (r Repo) getLockedAction(ctx context.Context, where string, arg string) (domain.LockedAction, error) {
	var (
		la      domain.LockedAction
		desc    sql.NullString
		created string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,proposal_id,action_type,description,created_at FROM locked_actions `+where, arg).
		Scan(&la.ID, &la.ProposalID, &la.ActionType, &desc, &created)
	if err != nil {
		return la, notFound(err)
	}
	la.Description = desc.String
	la.CreatedAt, err = parseTime(created)
	return la, err
}
