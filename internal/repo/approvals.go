package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"mossgov/internal/domain"
)

const approvalColumns = `id,proposal_id,voting_id,action_type,payload_json,mosscoin_house,opensource_house,director3,director3_signer_id,director3_approved_at,lock_status,created_at,unlocked_at,executed_at,execution_result_json,rejected_at,rejection_reason,version`

func scanApproval(row scanner) (domain.HighRiskApproval, error) {
	var (
		a                                domain.HighRiskApproval
		payload, created                 string
		moc, oss, d3                     int
		signer, d3At, unlocked, executed sql.NullString
		result, rejected, rejectReason   sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ProposalID, &a.VotingID, &a.ActionType, &payload, &moc, &oss, &d3, &signer, &d3At, &a.LockStatus, &created,
		&unlocked, &executed, &result, &rejected, &rejectReason, &a.Version); err != nil {
		return a, notFound(err)
	}
	a.MossCoinHouse, a.OpenSourceHouse, a.Director3 = moc == 1, oss == 1, d3 == 1
	a.Director3SignerID = signer.String
	a.RejectionReason = rejectReason.String
	if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
		return a, err
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &a.ExecutionResult); err != nil {
			return a, err
		}
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return a, err
	}
	if a.Director3ApprovedAt, err = parseTimePtr(d3At); err != nil {
		return a, err
	}
	if a.UnlockedAt, err = parseTimePtr(unlocked); err != nil {
		return a, err
	}
	if a.ExecutedAt, err = parseTimePtr(executed); err != nil {
		return a, err
	}
	if a.RejectedAt, err = parseTimePtr(rejected); err != nil {
		return a, err
	}
	return a, nil
}

func approvalArgs(a domain.HighRiskApproval) ([]any, error) {
	payload, err := marshalJSON(a.Payload)
	if err != nil {
		return nil, err
	}
	var result any
	if a.ExecutionResult != nil {
		encoded, err := marshalJSON(a.ExecutionResult)
		if err != nil {
			return nil, err
		}
		result = encoded
	}
	return []any{a.ProposalID, a.VotingID, a.ActionType, payload, boolInt(a.MossCoinHouse), boolInt(a.OpenSourceHouse), boolInt(a.Director3),
		nullable(a.Director3SignerID), fmtTimePtr(a.Director3ApprovedAt), a.LockStatus, fmtTime(a.CreatedAt), fmtTimePtr(a.UnlockedAt),
		fmtTimePtr(a.ExecutedAt), result, fmtTimePtr(a.RejectedAt), nullable(a.RejectionReason)}, nil
}

// InsertApproval fails with domain.ErrDuplicate when the proposal already has an approval.
func (r Repo) InsertApproval(ctx context.Context, a domain.HighRiskApproval) error {
	args, err := approvalArgs(a)
	if err != nil {
		return err
	}
	args = append([]any{a.ID}, args...)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO approvals(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`, args...)
	return uniqueViolation(err)
}

func (r Repo) GetApproval(ctx context.Context, id string) (domain.HighRiskApproval, error) {
	return scanApproval(r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id))
}

func (r Repo) GetApprovalByProposal(ctx context.Context, proposalID string) (domain.HighRiskApproval, error) {
	return scanApproval(r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE proposal_id=?`, proposalID))
}

func (r Repo) ListApprovals(ctx context.Context, f domain.ApprovalFilter) ([]domain.HighRiskApproval, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approvals ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HighRiskApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		if f.Match(a) {
			res = append(res, a)
		}
	}
	return res, rows.Err()
}

// UpdateApproval applies fn and writes the result with an optimistic version check,
// so check-then-write transitions such as LOCKED to UNLOCKED happen at most once.
func (r Repo) UpdateApproval(ctx context.Context, id string, fn func(*domain.HighRiskApproval) error) (domain.HighRiskApproval, error) {
	var out domain.HighRiskApproval
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		a, err := scanApproval(tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id=?`, id))
		if err != nil {
			return err
		}
		version := a.Version
		if err := fn(&a); err != nil {
			return err
		}
		args, err := approvalArgs(a)
		if err != nil {
			return err
		}
		args = append(args, id, version)
		res, err := tx.ExecContext(ctx, `UPDATE approvals SET proposal_id=?,voting_id=?,action_type=?,payload_json=?,mosscoin_house=?,opensource_house=?,director3=?,director3_signer_id=?,director3_approved_at=?,lock_status=?,created_at=?,unlocked_at=?,executed_at=?,execution_result_json=?,rejected_at=?,rejection_reason=?,version=version+1 WHERE id=? AND version=?`, args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrVersionConflict
		}
		a.Version = version + 1
		out = a
		return nil
	})
	return out, err
}
