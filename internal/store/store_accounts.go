package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const accountSelectColumns = `
	id, name, type, username, session_id,
	last_article_fetch_start, last_article_fetch_end, created_at
`

// EnsureAccount returns the account registered under name, creating it with a
// fresh UUID when missing.
func (s *Store) EnsureAccount(ctx context.Context, name, kind, username string) (AccountInfo, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return AccountInfo{}, false, fmt.Errorf("%w: account name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(kind) == "" {
		return AccountInfo{}, false, fmt.Errorf("%w: account type is required", ErrInvalidInput)
	}

	existing, err := s.GetAccountByName(ctx, name)
	switch {
	case err == nil:
		if existing.Type != kind {
			return AccountInfo{}, false, fmt.Errorf("%w: account %q already registered as %s", ErrConflict, name, existing.Type)
		}
		if existing.Username != username {
			if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET username = ?, session_id = NULL WHERE id = ?`, username, existing.ID); err != nil {
				return AccountInfo{}, false, err
			}
			existing.Username = username
			existing.SessionID = ""
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return AccountInfo{}, false, err
	}

	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, name, type, username) VALUES (?, ?, ?, ?)`,
		id, name, kind, username,
	); err != nil {
		return AccountInfo{}, false, err
	}
	created, err := s.GetAccount(ctx, id)
	if err != nil {
		return AccountInfo{}, false, err
	}
	return created, true, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (AccountInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountSelectColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return AccountInfo{}, notFound(err, "account", id)
	}
	return a, nil
}

func (s *Store) GetAccountByName(ctx context.Context, name string) (AccountInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountSelectColumns+` FROM accounts WHERE name = ?`, name)
	a, err := scanAccount(row)
	if err != nil {
		return AccountInfo{}, notFound(err, "account", name)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]AccountInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountSelectColumns+` FROM accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]AccountInfo, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAccountSession(ctx context.Context, id, sessionID string) error {
	var value any
	if sessionID != "" {
		value = sessionID
	}
	return s.execOne(ctx, "account", `UPDATE accounts SET session_id = ? WHERE id = ?`, value, id)
}

func (s *Store) UpdateArticleFetchWindow(ctx context.Context, id string, start, end *time.Time) error {
	return s.execOne(ctx, "account",
		`UPDATE accounts SET last_article_fetch_start = ?, last_article_fetch_end = ? WHERE id = ?`,
		timeToDBString(start), timeToDBString(end), id,
	)
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.execOne(ctx, "account", `DELETE FROM accounts WHERE id = ?`, id)
}

func (s *Store) execOne(ctx context.Context, entity, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
