package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/courier/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/courier.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/courier.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		profile_picture TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		to_user_id INTEGER NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		content TEXT,
		media_url TEXT,
		type TEXT NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'image')),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK ((type = 'text' AND media_url IS NULL) OR (type = 'image' AND media_url IS NOT NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(from_user_id, to_user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_user_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a user record. Used for seeding and tests.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, profilePicture *string) (*models.User, error) {
	defer observe("sqlite", "create_user", time.Now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, profile_picture, created_at)
		VALUES (?, ?, ?)
	`, username, profilePicture, now())
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID. It returns nil, nil when no user exists.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer observe("sqlite", "get_user", time.Now())

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, profile_picture, created_at
		FROM users WHERE user_id = ?
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.ProfilePicture,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateMessage appends a message. The store assigns id and created_at.
func (s *SQLiteStore) CreateMessage(ctx context.Context, fromID, toID int64, content models.Content) (*models.Message, error) {
	defer observe("sqlite", "create_message", time.Now())

	body, mediaURL := content.Columns()
	createdAt := now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (from_user_id, to_user_id, content, media_url, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, fromID, toID, body, mediaURL, string(content.Type), createdAt, createdAt)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Message{
		ID:         id,
		FromUserID: fromID,
		ToUserID:   toID,
		Type:       content.Type,
		Content:    body,
		MediaURL:   mediaURL,
		CreatedAt:  createdAt,
	}, nil
}

// ListConversation returns every message between two users, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	defer observe("sqlite", "list_conversation", time.Now())

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(conversationQuery, "?1", "?2"), userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListContacts returns the users userID has exchanged messages with,
// most recent conversation first.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID int64) ([]models.Contact, error) {
	defer observe("sqlite", "list_contacts", time.Now())

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(contactsQuery, "?1"), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// now returns the store clock, truncated to the precision Postgres keeps
// so timestamps compare equally across backends.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
