package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/models"
)

// DataStore is the durable, append-only message record plus the user
// lookups the gateway needs. Both PostgresStore and SQLiteStore implement it.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username string, profilePicture *string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Message operations
	CreateMessage(ctx context.Context, fromID, toID int64, content models.Content) (*models.Message, error)
	ListConversation(ctx context.Context, userA, userB int64) ([]models.Message, error)
	ListContacts(ctx context.Context, userID int64) ([]models.Contact, error)
}

// observe records the latency of a store operation.
func observe(backend, op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

const conversationQuery = `
	SELECT m.message_id, m.from_user_id, m.to_user_id, m.type, m.content, m.media_url, m.created_at,
	       u.username, u.profile_picture
	FROM messages m
	LEFT JOIN users u ON u.user_id = m.from_user_id
	WHERE (m.from_user_id = %[1]s AND m.to_user_id = %[2]s)
	   OR (m.from_user_id = %[2]s AND m.to_user_id = %[1]s)
	ORDER BY m.created_at ASC, m.message_id ASC
`

const contactsQuery = `
	SELECT u.user_id, u.username, u.profile_picture, m.created_at
	FROM (
		SELECT CASE WHEN from_user_id = %[1]s THEN to_user_id ELSE from_user_id END AS partner_id,
		       MAX(message_id) AS last_id
		FROM messages
		WHERE from_user_id = %[1]s OR to_user_id = %[1]s
		GROUP BY partner_id
	) p
	JOIN users u ON u.user_id = p.partner_id
	JOIN messages m ON m.message_id = p.last_id
	ORDER BY m.created_at DESC, m.message_id DESC
`

// rowScanner is satisfied by pgx.Rows, pgx.Row, *sql.Rows and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var (
		msg      models.Message
		msgType  string
		username *string
		picture  *string
	)
	err := row.Scan(
		&msg.ID,
		&msg.FromUserID,
		&msg.ToUserID,
		&msgType,
		&msg.Content,
		&msg.MediaURL,
		&msg.CreatedAt,
		&username,
		&picture,
	)
	if err != nil {
		return msg, err
	}
	msg.Type = models.MessageType(msgType)
	msg.FromUser = &models.UserSummary{Username: "Undefined", ProfilePicture: picture}
	if username != nil {
		msg.FromUser.Username = *username
	}
	return msg, nil
}

func scanContact(row rowScanner) (models.Contact, error) {
	var (
		c    models.Contact
		last time.Time
	)
	if err := row.Scan(&c.UserID, &c.Username, &c.ProfilePicture, &last); err != nil {
		return c, err
	}
	c.LastMessageTime = &last
	return c, nil
}
