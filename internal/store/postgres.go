package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/courier/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a user record. Used for seeding and tests.
func (s *PostgresStore) CreateUser(ctx context.Context, username string, profilePicture *string) (*models.User, error) {
	defer observe("postgres", "create_user", time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, profile_picture)
		VALUES ($1, $2)
		RETURNING user_id, username, profile_picture, created_at
	`, username, profilePicture).Scan(
		&user.ID,
		&user.Username,
		&user.ProfilePicture,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID. It returns nil, nil when no user exists.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	defer observe("postgres", "get_user", time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, username, profile_picture, created_at
		FROM users WHERE user_id = $1
	`, id).Scan(
		&user.ID,
		&user.Username,
		&user.ProfilePicture,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateMessage appends a message. The database assigns id and created_at.
func (s *PostgresStore) CreateMessage(ctx context.Context, fromID, toID int64, content models.Content) (*models.Message, error) {
	defer observe("postgres", "create_message", time.Now())

	body, mediaURL := content.Columns()
	msg := &models.Message{
		FromUserID: fromID,
		ToUserID:   toID,
		Type:       content.Type,
		Content:    body,
		MediaURL:   mediaURL,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (from_user_id, to_user_id, content, media_url, type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING message_id, created_at
	`, fromID, toID, body, mediaURL, string(content.Type)).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListConversation returns every message between two users, oldest first.
func (s *PostgresStore) ListConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	defer observe("postgres", "list_conversation", time.Now())

	rows, err := s.pool.Query(ctx, fmt.Sprintf(conversationQuery, "$1", "$2"), userA, userB)
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
func (s *PostgresStore) ListContacts(ctx context.Context, userID int64) ([]models.Contact, error) {
	defer observe("postgres", "list_contacts", time.Now())

	rows, err := s.pool.Query(ctx, fmt.Sprintf(contactsQuery, "$1"), userID)
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
