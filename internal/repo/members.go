package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"mossgov/internal/domain"
)

const memberColumns = `id,house,identity,voting_power,status,token_balance,contribution_score,roles_json,joined_at,last_active_at,version`

func scanMember(row scanner) (domain.HouseMember, int64, error) {
	var (
		m                  domain.HouseMember
		balance, score     sql.NullInt64
		roles              sql.NullString
		joined, lastActive string
		version            int64
	)
	if err := row.Scan(&m.ID, &m.House, &m.Identity, &m.VotingPower, &m.Status, &balance, &score, &roles, &joined, &lastActive, &version); err != nil {
		return m, 0, notFound(err)
	}
	var err error
	if m.JoinedAt, err = parseTime(joined); err != nil {
		return m, 0, err
	}
	if m.LastActiveAt, err = parseTime(lastActive); err != nil {
		return m, 0, err
	}
	switch m.House {
	case domain.HouseMossCoin:
		m.Token = &domain.TokenHolding{Balance: balance.Int64}
	case domain.HouseOpenSource:
		m.Contribution = &domain.ContributionRecord{Score: score.Int64}
		if roles.Valid && roles.String != "" {
			if err := json.Unmarshal([]byte(roles.String), &m.Contribution.Roles); err != nil {
				return m, 0, fmt.Errorf("decode roles for %s: %w", m.ID, err)
			}
		}
	}
	return m, version, nil
}

func memberVariantArgs(m domain.HouseMember) (balance, score, roles any, err error) {
	if m.Token != nil {
		balance = m.Token.Balance
	}
	if m.Contribution != nil {
		score = m.Contribution.Score
		rolesJSON, err := marshalJSON(m.Contribution.Roles)
		if err != nil {
			return nil, nil, nil, err
		}
		roles = rolesJSON
	}
	return balance, score, roles, nil
}

func (r Repo) InsertMember(ctx context.Context, m domain.HouseMember) error {
	balance, score, roles, err := memberVariantArgs(m)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO members(id,house,identity,voting_power,status,token_balance,contribution_score,roles_json,joined_at,last_active_at,version) VALUES (?,?,?,?,?,?,?,?,?,?,1)`,
		m.ID, m.House, m.Identity, m.VotingPower, m.Status, balance, score, roles, fmtTime(m.JoinedAt), fmtTime(m.LastActiveAt))
	return uniqueViolation(err)
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.HouseMember, error) {
	m, _, err := scanMember(r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id=?`, id))
	return m, err
}

func (r Repo) GetMemberByIdentity(ctx context.Context, house domain.House, identity string) (domain.HouseMember, error) {
	m, _, err := scanMember(r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE house=? AND identity=?`, house, identity))
	return m, err
}

func (r Repo) ListMembers(ctx context.Context, f domain.MemberFilter) ([]domain.HouseMember, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.House != "" {
		clauses = append(clauses, "house=?")
		args = append(args, f.House)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM members WHERE `+strings.Join(clauses, " AND ")+` ORDER BY joined_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HouseMember
	for rows.Next() {
		m, _, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpdateMember applies fn to the current row and writes it back if the row was
// not modified in between.
func (r Repo) UpdateMember(ctx context.Context, id string, fn func(*domain.HouseMember) error) (domain.HouseMember, error) {
	var out domain.HouseMember
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		m, version, err := scanMember(tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id=?`, id))
		if err != nil {
			return err
		}
		if err := fn(&m); err != nil {
			return err
		}
		balance, score, roles, err := memberVariantArgs(m)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE members SET voting_power=?,status=?,token_balance=?,contribution_score=?,roles_json=?,last_active_at=?,version=version+1 WHERE id=? AND version=?`,
			m.VotingPower, m.Status, balance, score, roles, fmtTime(m.LastActiveAt), id, version)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrVersionConflict
		}
		out = m
		return nil
	})
	return out, err
}

func (r Repo) DeleteMember(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM delegations WHERE delegator_id=? OR delegate_id=?`, id, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM members WHERE id=?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SumVotingPower totals voting power of members of house with the given status.
func (r Repo) SumVotingPower(ctx context.Context, house domain.House, status domain.MemberStatus) (int64, error) {
	var total int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(voting_power),0) FROM members WHERE house=? AND status=?`, house, status).Scan(&total)
	return total, err
}
