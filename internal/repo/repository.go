package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors so callers can tell a data miss apart from a store failure.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrUserNotFound   = errors.New("user not found")
)

// Client is a directory record. Read-only from this system's perspective.
type Client struct {
	Name  string
	Email string
}

// User is a signed-up assistant user.
type User struct {
	ID    string
	Email string
	Name  *string
	WAJID *string
}

// MessageRecord is one logged chat message.
type MessageRecord struct {
	UserEmail string
	Direction string
	Intent    string
	Content   *string
}

// Repository provides access to the client directory and user tables.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps a pgx pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindClientByName resolves a client by case-insensitive exact name match.
// Returns ErrClientNotFound on a miss; any other error is a store failure.
func (r *Repository) FindClientByName(ctx context.Context, name string) (*Client, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT name, email FROM clients WHERE lower(name) = lower($1) LIMIT 1`, name)

	var c Client
	if err := row.Scan(&c.Name, &c.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("query clients: %w", err)
	}
	return &c, nil
}

// ListClientNames returns every client name in the directory.
func (r *Repository) ListClientNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT name FROM clients ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query client names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan client name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client names: %w", err)
	}
	return names, nil
}

// GetUserByEmail fetches a user record by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, wa_jid FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// GetUserByJID fetches a user record by linked WhatsApp JID.
func (r *Repository) GetUserByJID(ctx context.Context, jid string) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, wa_jid FROM users WHERE wa_jid = $1`, jid)
	return scanUser(row)
}

// InsertMessage appends one chat message to the log. Failures here are
// non-fatal to the turn; callers log and continue.
func (r *Repository) InsertMessage(ctx context.Context, msg MessageRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (user_email, direction, intent, content, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		msg.UserEmail, msg.Direction, msg.Intent, msg.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.WAJID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query users: %w", err)
	}
	return &u, nil
}
