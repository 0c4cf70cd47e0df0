package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/sv-explore/internal/domain"
	"github.com/google/uuid"
)

const userColumns = `user_id, username, session_id, status, last_active, explorations_completed, logged`

// Users implements UserRegistry on Postgres.
type Users struct {
	pool  *Pool
	now   func() time.Time
	newID func() string
}

// NewUsers creates a user registry backed by pool.
func NewUsers(pool *Pool) (*Users, error) {
	if pool == nil {
		return nil, fmt.Errorf("new user registry: %w", ErrNotConfigured)
	}
	return &Users{
		pool:  pool,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}, nil
}

// ResolveSession resolves token inside one transaction. The matching row is
// locked so concurrent resolutions of the same token serialize.
func (u *Users) ResolveSession(ctx context.Context, token string) (Resolution, error) {
	token = strings.TrimSpace(token)

	var res Resolution
	err := u.pool.WithTx(ctx, func(tx *sql.Tx) error {
		if token != "" {
			var (
				userID   int64
				username string
				logged   bool
			)
			err := tx.QueryRowContext(ctx,
				`SELECT user_id, username, logged FROM users WHERE session_id = $1 FOR UPDATE`,
				token,
			).Scan(&userID, &username, &logged)

			switch {
			case errors.Is(err, sql.ErrNoRows):
				slog.Debug("session token not found, minting new session", "token", token)
			case err != nil:
				return fmt.Errorf("lookup session: %w", err)
			case logged:
				visits, err := u.resume(ctx, tx, userID)
				if err != nil {
					return err
				}
				res = Resolution{UserID: userID, Username: username, SessionID: token, VisitCount: visits, Outcome: OutcomeResumed}
				return nil
			default:
				sessionID, err := u.reactivate(ctx, tx, userID)
				if err != nil {
					return err
				}
				res = Resolution{UserID: userID, Username: username, SessionID: sessionID, VisitCount: 1, Outcome: OutcomeReactivated}
				return nil
			}
		}

		created, err := u.insert(ctx, tx)
		if err != nil {
			return err
		}
		res = created
		return nil
	})
	if err != nil {
		return Resolution{}, classify("resolve session", err)
	}
	return res, nil
}

func (u *Users) resume(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	var visits int
	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET explorations_completed = explorations_completed + 1,
		    status = $1,
		    last_active = $2
		WHERE user_id = $3
		RETURNING explorations_completed`,
		string(domain.StatusActive), u.now(), userID,
	).Scan(&visits)
	if err != nil {
		return 0, fmt.Errorf("resume session: %w", err)
	}
	return visits, nil
}

func (u *Users) reactivate(ctx context.Context, tx *sql.Tx, userID int64) (string, error) {
	sessionID := u.newID()
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET session_id = $1,
		    explorations_completed = 1,
		    logged = TRUE,
		    status = $2,
		    last_active = $3
		WHERE user_id = $4`,
		sessionID, string(domain.StatusActive), u.now(), userID,
	)
	if err != nil {
		return "", fmt.Errorf("reactivate session: %w", err)
	}
	return sessionID, nil
}

func (u *Users) insert(ctx context.Context, tx *sql.Tx) (Resolution, error) {
	res := Resolution{
		Username:   "user_" + u.newID(),
		SessionID:  u.newID(),
		VisitCount: 1,
		Outcome:    OutcomeNew,
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO users (username, session_id, status, last_active, explorations_completed, logged)
		VALUES ($1, $2, $3, $4, 1, TRUE)
		RETURNING user_id`,
		res.Username, res.SessionID, string(domain.StatusActive), u.now(),
	).Scan(&res.UserID)
	if err != nil {
		return Resolution{}, fmt.Errorf("insert user: %w", err)
	}
	return res, nil
}

// Lookup reads the user holding sessionID without touching it.
// Returns (nil, nil) if no row matches.
func (u *Users) Lookup(ctx context.Context, sessionID string) (*domain.User, error) {
	var user *domain.User
	err := u.pool.WithConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE session_id = $1`, sessionID)
		found, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		user = &found
		return nil
	})
	if err != nil {
		return nil, classify("lookup user", err)
	}
	return user, nil
}

// Logout marks the session as logged out and idle.
func (u *Users) Logout(ctx context.Context, sessionID string) (bool, error) {
	var affected int64
	err := u.pool.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `
			UPDATE users
			SET logged = FALSE, status = $1, last_active = $2
			WHERE session_id = $3`,
			string(domain.StatusIdle), u.now(), sessionID,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, classify("logout user", err)
	}
	if affected == 0 {
		slog.Warn("Logout affected 0 rows", "session_id", sessionID)
	}
	return affected > 0, nil
}

// ListActive returns logged-in users ordered by user_id.
func (u *Users) ListActive(ctx context.Context) ([]domain.User, error) {
	return u.list(ctx, `SELECT `+userColumns+` FROM users WHERE logged = TRUE ORDER BY user_id`)
}

// ListAll returns every user ordered by user_id.
func (u *Users) ListAll(ctx context.Context) ([]domain.User, error) {
	return u.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY user_id`)
}

func (u *Users) list(ctx context.Context, query string) ([]domain.User, error) {
	users := []domain.User{}
	err := u.pool.WithConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				slog.Warn("failed to close user rows", "error", closeErr)
			}
		}()

		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		user       domain.User
		status     string
		lastActive sql.NullTime
	)
	err := row.Scan(
		&user.UserID, &user.Username, &user.SessionID, &status,
		&lastActive, &user.ExplorationsCompleted, &user.Logged,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, err
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("scan user row: %w", err)
	}
	user.Status = domain.UserStatus(status)
	if lastActive.Valid {
		user.LastActive = lastActive.Time
	}
	return user, nil
}

// Remove hard-deletes the user holding sessionID.
func (u *Users) Remove(ctx context.Context, sessionID string) (bool, error) {
	var affected int64
	err := u.pool.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx, `DELETE FROM users WHERE session_id = $1`, sessionID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, classify("remove user", err)
	}
	return affected > 0, nil
}

// MarkIdle flags Active users whose last activity is before cutoff as Idle.
func (u *Users) MarkIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := u.pool.WithConn(ctx, func(conn *sql.Conn) error {
		result, err := conn.ExecContext(ctx,
			`UPDATE users SET status = $1 WHERE status = $2 AND last_active < $3`,
			string(domain.StatusIdle), string(domain.StatusActive), cutoff,
		)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, classify("mark idle users", err)
	}
	return affected, nil
}
