package chatbot

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/valleyweightloss/messaging/libs/db"
	"github.com/valleyweightloss/messaging/services/messaging-service/internal/message"
)

// ConversationRepository persists assistant conversations so the
// inbound-SMS responder sees proactive messages in its history.
type ConversationRepository struct {
	pool *db.Pool
}

func NewConversationRepository(pool *db.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// EnsureActive returns the active conversation for a patient and
// context, creating one if none exists.
func (r *ConversationRepository) EnsureActive(ctx context.Context, patientID string, convContext message.ChatbotContext) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM conversations
		WHERE patient_id = $1 AND context = $2 AND active
		ORDER BY created_at DESC
		LIMIT 1
	`, patientID, string(convContext)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	id = uuid.NewString()
	_, err = r.pool.Exec(ctx, `
		INSERT INTO conversations (id, patient_id, context, active)
		VALUES ($1, $2, $3, true)
	`, id, patientID, string(convContext))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), conversationID, role, content)
	return err
}
