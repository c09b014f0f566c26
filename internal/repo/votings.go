package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"mossgov/internal/domain"
)

const votingColumns = `id,proposal_id,title,risk_level,category,mosscoin_json,opensource_json,status,requires_reconciliation,reconciliation_memo_id,started_at,ends_at,finalized_at,version`

func scanVoting(row scanner) (domain.DualHouseVoting, error) {
	var (
		v                        domain.DualHouseVoting
		category, memo, finished sql.NullString
		moc, oss                 string
		reconcile                int
		started, ends            string
	)
	if err := row.Scan(&v.ID, &v.ProposalID, &v.Title, &v.RiskLevel, &category, &moc, &oss, &v.Status, &reconcile, &memo, &started, &ends, &finished, &v.Version); err != nil {
		return v, notFound(err)
	}
	v.Category = category.String
	v.ReconciliationMemoID = memo.String
	v.RequiresReconciliation = reconcile == 1
	if err := json.Unmarshal([]byte(moc), &v.MossCoin); err != nil {
		return v, err
	}
	if err := json.Unmarshal([]byte(oss), &v.OpenSource); err != nil {
		return v, err
	}
	var err error
	if v.StartedAt, err = parseTime(started); err != nil {
		return v, err
	}
	if v.EndsAt, err = parseTime(ends); err != nil {
		return v, err
	}
	if v.FinalizedAt, err = parseTimePtr(finished); err != nil {
		return v, err
	}
	return v, nil
}

func (r Repo) InsertVoting(ctx context.Context, v domain.DualHouseVoting) error {
	moc, err := marshalJSON(v.MossCoin)
	if err != nil {
		return err
	}
	oss, err := marshalJSON(v.OpenSource)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO votings(id,proposal_id,title,risk_level,category,mosscoin_json,opensource_json,status,requires_reconciliation,reconciliation_memo_id,started_at,ends_at,finalized_at,version) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		v.ID, v.ProposalID, v.Title, v.RiskLevel, nullable(v.Category), moc, oss, v.Status, boolInt(v.RequiresReconciliation), nullable(v.ReconciliationMemoID),
		fmtTime(v.StartedAt), fmtTime(v.EndsAt), fmtTimePtr(v.FinalizedAt))
	return uniqueViolation(err)
}

func (r Repo) GetVoting(ctx context.Context, id string) (domain.DualHouseVoting, error) {
	return scanVoting(r.DB.QueryRowContext(ctx, `SELECT `+votingColumns+` FROM votings WHERE id=?`, id))
}

func (r Repo) GetVotingByProposal(ctx context.Context, proposalID string) (domain.DualHouseVoting, error) {
	return scanVoting(r.DB.QueryRowContext(ctx, `SELECT `+votingColumns+` FROM votings WHERE proposal_id=?`, proposalID))
}

func (r Repo) ListVotings(ctx context.Context, f domain.VotingFilter) ([]domain.DualHouseVoting, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.NeedsMemo {
		clauses = append(clauses, "requires_reconciliation=1 AND reconciliation_memo_id IS NULL")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+votingColumns+` FROM votings WHERE `+strings.Join(clauses, " AND ")+` ORDER BY started_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DualHouseVoting
	for rows.Next() {
		v, err := scanVoting(rows)
		if err != nil {
			return nil, err
		}
		// ends_at is compared in Go; RFC3339Nano strings do not sort lexically across precisions.
		if f.Match(v) {
			res = append(res, v)
		}
	}
	return res, rows.Err()
}

func listVotesTx(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, votingID string) ([]domain.Vote, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,voting_id,house,member_id,choice,voting_power,delegated_power,delegations_json,cast_at FROM votes WHERE voting_id=? ORDER BY cast_at, id`, votingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var (
			v            domain.Vote
			shares, cast string
		)
		if err := rows.Scan(&v.ID, &v.VotingID, &v.House, &v.MemberID, &v.Choice, &v.VotingPower, &v.DelegatedPower, &shares, &cast); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shares), &v.Delegations); err != nil {
			return nil, err
		}
		if len(v.Delegations) == 0 {
			v.Delegations = nil
		}
		if v.CastAt, err = parseTime(cast); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func nonNilShares(s []domain.DelegatedShare) []domain.DelegatedShare {
	if s == nil {
		return []domain.DelegatedShare{}
	}
	return s
}

func (r Repo) ListVotes(ctx context.Context, votingID string) ([]domain.Vote, error) {
	return listVotesTx(ctx, r.DB, votingID)
}

func (r Repo) saveVotingTx(ctx context.Context, tx *sql.Tx, v domain.DualHouseVoting, version int64) error {
	moc, err := marshalJSON(v.MossCoin)
	if err != nil {
		return err
	}
	oss, err := marshalJSON(v.OpenSource)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE votings SET title=?,category=?,mosscoin_json=?,opensource_json=?,status=?,requires_reconciliation=?,reconciliation_memo_id=?,ends_at=?,finalized_at=?,version=version+1 WHERE id=? AND version=?`,
		v.Title, nullable(v.Category), moc, oss, v.Status, boolInt(v.RequiresReconciliation), nullable(v.ReconciliationMemoID), fmtTime(v.EndsAt), fmtTimePtr(v.FinalizedAt), v.ID, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// UpdateVoting applies fn to the session and its full vote set, then persists the session.
func (r Repo) UpdateVoting(ctx context.Context, id string, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error) {
	var out domain.DualHouseVoting
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		v, err := scanVoting(tx.QueryRowContext(ctx, `SELECT `+votingColumns+` FROM votings WHERE id=?`, id))
		if err != nil {
			return err
		}
		votes, err := listVotesTx(ctx, tx, id)
		if err != nil {
			return err
		}
		version := v.Version
		if err := fn(&v, votes); err != nil {
			return err
		}
		if err := r.saveVotingTx(ctx, tx, v, version); err != nil {
			return err
		}
		v.Version = version + 1
		out = v
		return nil
	})
	return out, err
}

// AppendVote inserts vote and applies fn to the session with the vote set including
// the new vote, atomically. A second vote by the same member in the same house fails
// with domain.ErrDuplicate; an error from fn discards the vote.
func (r Repo) AppendVote(ctx context.Context, vote domain.Vote, fn func(*domain.DualHouseVoting, []domain.Vote) error) (domain.DualHouseVoting, error) {
	var out domain.DualHouseVoting
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		v, err := scanVoting(tx.QueryRowContext(ctx, `SELECT `+votingColumns+` FROM votings WHERE id=?`, vote.VotingID))
		if err != nil {
			return err
		}
		shares, err := marshalJSON(nonNilShares(vote.Delegations))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO votes(id,voting_id,house,member_id,choice,voting_power,delegated_power,delegations_json,cast_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			vote.ID, vote.VotingID, vote.House, vote.MemberID, vote.Choice, vote.VotingPower, vote.DelegatedPower, shares, fmtTime(vote.CastAt)); err != nil {
			return uniqueViolation(err)
		}
		votes, err := listVotesTx(ctx, tx, vote.VotingID)
		if err != nil {
			return err
		}
		version := v.Version
		if err := fn(&v, votes); err != nil {
			return err
		}
		if err := r.saveVotingTx(ctx, tx, v, version); err != nil {
			return err
		}
		v.Version = version + 1
		out = v
		return nil
	})
	return out, err
}
