// Package datastore provides SQLite-backed persistence for chatline accounts
// and moderation state.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mhaas-dev/chatline/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// ErrUserExists is returned by RegisterUser when the username is taken.
var ErrUserExists = errors.New("datastore: user already exists")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

func (p *baseProvider) ZeroTime() time.Time {
	return time.Time{}
}

func (p *baseProvider) Close() error {
	return nil
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory provides database access for all chatline entities.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT    NOT NULL,
		role          INTEGER NOT NULL DEFAULT 0 CHECK(role >= 0 AND role <= 1),
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS admins (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		password_hash TEXT    NOT NULL,
		created_at    TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL,
		reason     TEXT    NOT NULL DEFAULT '',
		banned_by  TEXT    NOT NULL DEFAULT '',
		expires_at TEXT,
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS mutes (
		username   TEXT NOT NULL PRIMARY KEY,
		muted_by   TEXT NOT NULL DEFAULT '',
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Users ----

// CreateUser creates a new user account and returns it with the assigned ID.
// It validates the username format before inserting.
func (s *baseProvider) CreateUser(username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("datastore: create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         model.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) when absent.
func (s *baseProvider) GetUserByUsername(username string) (*model.User, error) {
	u := &model.User{}
	var roleInt int
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &roleInt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.Role = model.Role(roleInt)
	if !u.Role.Valid() {
		return nil, fmt.Errorf("datastore: get user %s: %w", username, model.ErrInvalidRole)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	u.CreatedAt = parsed
	return u, nil
}

// ListUsers returns all registered users.
func (s *baseProvider) ListUsers() ([]model.User, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, username, role, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		var u model.User
		var roleInt int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Username, &roleInt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.Role = model.Role(roleInt)
		if !u.Role.Valid() {
			return nil, fmt.Errorf("datastore: scan user %s: %w", u.Username, model.ErrInvalidRole)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		u.CreatedAt = parsed
		users = append(users, u)
	}
	return users, rows.Err()
}

// RegisterUser atomically checks for an existing username and inserts the new
// account. Returns ErrUserExists when the name is taken.
func (s *txProvider) RegisterUser(username, passwordHash string) (*model.User, error) {
	ctx := context.Background()

	defer func() { _ = s.Rollback() }()

	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: register user: %w", err)
	}

	var count int
	err := s.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("datastore: register user: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	res, err := s.ExecContext(ctx,
		"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("datastore: register user: %w", err)
	}
	id, _ := res.LastInsertId()

	if err := s.Commit(); err != nil {
		return nil, fmt.Errorf("datastore: commit: %w", err)
	}

	return &model.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         model.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ---- Admins ----

// CreateAdmin creates a new administrator account.
func (s *baseProvider) CreateAdmin(username, passwordHash string) (*model.Admin, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("datastore: create admin: %w", err)
	}
	res, err := s.ExecContext(context.Background(),
		"INSERT INTO admins (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("datastore: create admin: %w", err)
	}
	id, _ := res.LastInsertId()
	return &model.Admin{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// GetAdminByUsername retrieves an admin by username. Returns (nil, nil) when absent.
func (s *baseProvider) GetAdminByUsername(username string) (*model.Admin, error) {
	a := &model.Admin{}
	var createdAt string
	err := s.QueryRowContext(context.Background(),
		"SELECT id, username, password_hash, created_at FROM admins WHERE username = ?", username).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get admin: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get admin: %w", err)
	}
	a.CreatedAt = parsed
	return a, nil
}

// HasAdmins returns true if any admin accounts exist.
func (s *baseProvider) HasAdmins() (bool, error) {
	var count int
	err := s.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM admins").Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: count admins: %w", err)
	}
	return count > 0, nil
}

// ---- Bans ----

// CreateBan adds a ban record. A zero expiresAt means permanent.
func (s *baseProvider) CreateBan(username, reason, bannedBy string, expiresAt time.Time) error {
	var expStr *string
	if !expiresAt.IsZero() {
		es := formatDBTime(expiresAt)
		expStr = &es
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO bans (username, reason, banned_by, expires_at) VALUES (?, ?, ?, ?)",
		username, reason, bannedBy, expStr)
	if err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	return nil
}

// DeleteBans removes all ban records for a username. No-op when none exist.
func (s *baseProvider) DeleteBans(username string) error {
	_, err := s.ExecContext(context.Background(), "DELETE FROM bans WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("datastore: delete bans: %w", err)
	}
	return nil
}

// IsBanned checks if a username is currently banned. Expired temp bans do not count.
func (s *baseProvider) IsBanned(username string) (bool, error) {
	var count int

	err := s.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM bans WHERE username = ? AND (expires_at IS NULL OR expires_at > datetime('now'))",
		username).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check ban: %w", err)
	}
	return count > 0, nil
}

// ListBans returns every stored ban row, expired ones included, ordered by
// username. Callers filter with Ban.Active when only live bans matter.
func (s *baseProvider) ListBans() ([]model.Ban, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT id, username, reason, banned_by, expires_at, created_at FROM bans ORDER BY username, id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list bans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bans []model.Ban
	for rows.Next() {
		var b model.Ban
		var expiresAt *string
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Username, &b.Reason, &b.BannedBy, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		if expiresAt != nil {
			exp, err := parseDBTime(*expiresAt)
			if err != nil {
				return nil, fmt.Errorf("datastore: scan ban: %w", err)
			}
			b.ExpiresAt = exp
		}
		created, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan ban: %w", err)
		}
		b.CreatedAt = created
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// ---- Mutes ----

// UpsertMute inserts or overwrites the mute entry for a username.
func (s *baseProvider) UpsertMute(username, mutedBy string, expiresAt time.Time) error {
	_, err := s.ExecContext(context.Background(),
		`INSERT INTO mutes (username, muted_by, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET muted_by = excluded.muted_by, expires_at = excluded.expires_at`,
		username, mutedBy, formatDBTime(expiresAt))
	if err != nil {
		return fmt.Errorf("datastore: upsert mute: %w", err)
	}
	return nil
}

// DeleteMute removes the mute entry for a username. No-op when absent.
func (s *baseProvider) DeleteMute(username string) error {
	_, err := s.ExecContext(context.Background(), "DELETE FROM mutes WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("datastore: delete mute: %w", err)
	}
	return nil
}

// ListMutes returns all stored mute entries, including ones already expired;
// expiry is the caller's concern.
func (s *baseProvider) ListMutes() ([]model.MuteEntry, error) {
	rows, err := s.QueryContext(context.Background(),
		"SELECT username, muted_by, expires_at, created_at FROM mutes ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("datastore: list mutes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mutes []model.MuteEntry
	for rows.Next() {
		var m model.MuteEntry
		var expiresAt, createdAt string
		if err := rows.Scan(&m.Username, &m.MutedBy, &expiresAt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan mute: %w", err)
		}
		exp, err := parseDBTime(expiresAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan mute: %w", err)
		}
		m.ExpiresAt = exp
		created, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan mute: %w", err)
		}
		m.CreatedAt = created
		mutes = append(mutes, m)
	}
	return mutes, rows.Err()
}
