package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealroom/internal/domain/entity"
	"dealroom/internal/domain/repository"
	"dealroom/pkg/errors"
)

type sqliteConversationRepository struct {
	db *sql.DB
}

func NewSQLiteConversationRepository(db *sql.DB) repository.ConversationRepository {
	return &sqliteConversationRepository{db: db}
}

const conversationColumns = `id, pair_key, listing_ref, is_active, deal_status, negotiated_price,
	preview_text, preview_sender, preview_at, created_at, updated_at`

func (r *sqliteConversationRepository) Create(ctx context.Context, conv *entity.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal("Failed to create conversation", err)
	}
	defer tx.Rollback()

	var previewText, previewSender, previewAt sql.NullString
	if p := conv.LastMessagePreview; p != nil {
		previewText = sql.NullString{String: p.Text, Valid: true}
		previewSender = sql.NullString{String: p.SenderID, Valid: true}
		previewAt = sql.NullString{String: formatTime(p.Timestamp), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.PairKey, conv.ListingRef, conv.IsActive, string(conv.DealStatus), nullFloat(conv.NegotiatedPrice),
		previewText, previewSender, previewAt, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return errors.Internal("Failed to create conversation", err)
	}

	for i, p := range conv.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, position, last_seen)
			VALUES (?, ?, ?, ?, ?)`,
			conv.ID, p.UserID, string(p.Role), i, formatTime(p.LastSeen),
		)
		if err != nil {
			return errors.Internal("Failed to create conversation participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Internal("Failed to create conversation", err)
	}
	return nil
}

func (r *sqliteConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("Conversation", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to get conversation", err)
	}

	if err := r.loadParticipants(ctx, []*entity.Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *sqliteConversationRepository) FindActiveByPairKey(ctx context.Context, pairKey string) (*entity.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE pair_key = ? AND is_active = 1
		ORDER BY created_at ASC LIMIT 1`, pairKey)
	conv, err := scanConversation(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("Conversation", err)
	}
	if err != nil {
		return nil, errors.Internal("Failed to find conversation", err)
	}

	if err := r.loadParticipants(ctx, []*entity.Conversation{conv}); err != nil {
		return nil, err
	}
	return conv, nil
}

func (r *sqliteConversationRepository) ListActiveByParticipant(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixColumns("c", conversationColumns)+`
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ? AND c.is_active = 1`, userID)
	if err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}

	var conversations []*entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Internal("Failed to parse conversation", err)
		}
		conversations = append(conversations, conv)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, errors.Internal("Failed to list conversations", err)
	}

	if err := r.loadParticipants(ctx, conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (r *sqliteConversationRepository) UpdatePreview(ctx context.Context, id string, preview entity.MessagePreview) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET preview_text = ?, preview_sender = ?, preview_at = ?, updated_at = ?
		WHERE id = ?`,
		preview.Text, preview.SenderID, formatTime(preview.Timestamp), formatTime(time.Now()), id,
	)
	if err != nil {
		return errors.Internal("Failed to update conversation preview", err)
	}
	return requireAffected(res, "Conversation")
}

func (r *sqliteConversationRepository) TouchParticipant(ctx context.Context, id, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversation_participants SET last_seen = ?
		WHERE conversation_id = ? AND user_id = ?`,
		formatTime(at), id, userID,
	)
	if err != nil {
		return errors.Internal("Failed to update participant", err)
	}
	return requireAffected(res, "Participant")
}

func (r *sqliteConversationRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET is_active = 0, updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return errors.Internal("Failed to deactivate conversation", err)
	}
	return requireAffected(res, "Conversation")
}

func (r *sqliteConversationRepository) TransitionDealStatus(ctx context.Context, id string, from, to entity.DealStatus, price *float64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET deal_status = ?, negotiated_price = ?, updated_at = ?
		WHERE id = ? AND deal_status = ?`,
		string(to), nullFloat(price), formatTime(time.Now()), id, string(from),
	)
	if err != nil {
		return errors.Internal("Failed to update deal status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Internal("Failed to update deal status", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT deal_status FROM conversations WHERE id = ?`, id).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("Conversation", err)
	}
	if err != nil {
		return errors.Internal("Failed to update deal status", err)
	}
	return errors.InvalidTransition(fmt.Sprintf("deal is %s, expected %s", current, from))
}

func (r *sqliteConversationRepository) loadParticipants(ctx context.Context, conversations []*entity.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	byID := make(map[string]*entity.Conversation, len(conversations))
	args := make([]interface{}, 0, len(conversations))
	for _, c := range conversations {
		byID[c.ID] = c
		args = append(args, c.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, last_seen FROM conversation_participants
		WHERE conversation_id IN (`+placeholders(len(args))+`)
		ORDER BY conversation_id, position`, args...)
	if err != nil {
		return errors.Internal("Failed to load participants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID, role, lastSeen string
		if err := rows.Scan(&convID, &userID, &role, &lastSeen); err != nil {
			return errors.Internal("Failed to parse participant", err)
		}
		c := byID[convID]
		c.Participants = append(c.Participants, entity.Participant{
			UserID:   userID,
			Role:     entity.Role(role),
			LastSeen: parseTime(lastSeen),
		})
		c.ParticipantIDs = append(c.ParticipantIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return errors.Internal("Failed to load participants", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*entity.Conversation, error) {
	var (
		conv                                  entity.Conversation
		dealStatus, createdAt, updatedAt      string
		price                                 sql.NullFloat64
		previewText, previewSender, previewAt sql.NullString
	)
	err := row.Scan(&conv.ID, &conv.PairKey, &conv.ListingRef, &conv.IsActive, &dealStatus, &price,
		&previewText, &previewSender, &previewAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	conv.DealStatus = entity.DealStatus(dealStatus)
	conv.NegotiatedPrice = floatPtr(price)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	if previewAt.Valid {
		conv.LastMessagePreview = &entity.MessagePreview{
			Text:      previewText.String,
			SenderID:  previewSender.String,
			Timestamp: parseTime(previewAt.String),
		}
	}
	return &conv, nil
}

func requireAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Internal("Failed to read update result", err)
	}
	if n == 0 {
		return errors.NotFound(resource, nil)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
