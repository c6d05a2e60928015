package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"github.com/ibeckermayer/notedraft/internal/types"
)

var accountColumns = []string{"account_id", "login_id", "login_secret", "provider", "tone", "length", "other_conditions"}

// SaveSettings inserts or replaces an account's settings.
func (s *Store) SaveSettings(ctx context.Context, st types.Settings) error {
	if st.AccountID == "" {
		return errors.New("account id is required")
	}
	b := sq.Insert("accounts").
		Columns(append(accountColumns, "updated_at")...).
		Values(st.AccountID, st.LoginID, st.LoginSecret, st.Provider,
			st.Prompt.Tone, st.Prompt.Length, st.Prompt.OtherConditions, formatTime(s.now())).
		Suffix(`ON CONFLICT(account_id) DO UPDATE SET
			login_id = excluded.login_id,
			login_secret = excluded.login_secret,
			provider = excluded.provider,
			tone = excluded.tone,
			length = excluded.length,
			other_conditions = excluded.other_conditions,
			updated_at = excluded.updated_at`)
	_, err := s.exec(ctx, b)
	return err
}

// GetSettings returns the account's settings or ErrNotFound.
func (s *Store) GetSettings(ctx context.Context, accountID string) (types.Settings, error) {
	rows, err := s.query(ctx, sq.Select(accountColumns...).From("accounts").Where(sq.Eq{"account_id": accountID}))
	if err != nil {
		return types.Settings{}, err
	}
	defer rows.Close()

	accounts, err := scanAccounts(rows)
	if err != nil {
		return types.Settings{}, err
	}
	if len(accounts) == 0 {
		return types.Settings{}, errors.Wrapf(ErrNotFound, "account %s", accountID)
	}
	return accounts[0], nil
}

// ListAccounts returns every configured account, secrets included.
func (s *Store) ListAccounts(ctx context.Context) ([]types.Settings, error) {
	rows, err := s.query(ctx, sq.Select(accountColumns...).From("accounts").OrderBy("account_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// Credential implements the pool's credential source.
func (s *Store) Credential(ctx context.Context, accountID string) (types.Credential, error) {
	st, err := s.GetSettings(ctx, accountID)
	if err != nil {
		return types.Credential{}, err
	}
	if st.LoginID == "" || st.LoginSecret == "" {
		return types.Credential{}, errors.Newf("account %s has no login credentials", accountID)
	}
	return types.Credential{AccountID: accountID, LoginID: st.LoginID, LoginSecret: st.LoginSecret}, nil
}

func scanAccounts(rows *sql.Rows) ([]types.Settings, error) {
	var out []types.Settings
	for rows.Next() {
		var st types.Settings
		err := rows.Scan(&st.AccountID, &st.LoginID, &st.LoginSecret, &st.Provider,
			&st.Prompt.Tone, &st.Prompt.Length, &st.Prompt.OtherConditions)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
