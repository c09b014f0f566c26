package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"mossgov/internal/domain"
)

const delegationColumns = `id,delegator_id,delegate_id,house,scope,scope_value,delegated_power,active,created_at,expires_at,revoked_at`

func scanDelegation(row scanner) (domain.VoteDelegation, error) {
	var (
		d                domain.VoteDelegation
		active           int
		created          string
		expires, revoked sql.NullString
	)
	if err := row.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &d.House, &d.Scope, &d.ScopeValue, &d.DelegatedPower, &active, &created, &expires, &revoked); err != nil {
		return d, notFound(err)
	}
	d.Active = active == 1
	var err error
	if d.CreatedAt, err = parseTime(created); err != nil {
		return d, err
	}
	if d.ExpiresAt, err = parseTimePtr(expires); err != nil {
		return d, err
	}
	if d.RevokedAt, err = parseTimePtr(revoked); err != nil {
		return d, err
	}
	return d, nil
}

// InsertDelegation fails with domain.ErrDuplicate when the delegator already has an
// active delegation for the same house and scope.
func (r Repo) InsertDelegation(ctx context.Context, d domain.VoteDelegation) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO delegations(`+delegationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.DelegatorID, d.DelegateID, d.House, d.Scope, d.ScopeValue, d.DelegatedPower, boolInt(d.Active), fmtTime(d.CreatedAt), fmtTimePtr(d.ExpiresAt), fmtTimePtr(d.RevokedAt))
	return uniqueViolation(err)
}

func (r Repo) GetDelegation(ctx context.Context, id string) (domain.VoteDelegation, error) {
	return scanDelegation(r.DB.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id=?`, id))
}

func (r Repo) ListDelegations(ctx context.Context, f domain.DelegationFilter) ([]domain.VoteDelegation, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.DelegatorID != "" {
		clauses = append(clauses, "delegator_id=?")
		args = append(args, f.DelegatorID)
	}
	if f.DelegateID != "" {
		clauses = append(clauses, "delegate_id=?")
		args = append(args, f.DelegateID)
	}
	if f.House != "" {
		clauses = append(clauses, "house=?")
		args = append(args, f.House)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VoteDelegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// RevokeDelegation deactivates an active delegation. It reports false when the
// delegation exists but was already inactive.
func (r Repo) RevokeDelegation(ctx context.Context, id string, at time.Time) (domain.VoteDelegation, bool, error) {
	var (
		out     domain.VoteDelegation
		revoked bool
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE delegations SET active=0, revoked_at=? WHERE id=? AND active=1`, fmtTime(at), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		revoked = n == 1
		out, err = scanDelegation(tx.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id=?`, id))
		return err
	})
	return out, revoked, err
}
