// Package conversation implements the conversation manager (C9): partition
// and conversation upserts, encrypted message storage, context loading for
// injection into outgoing requests, and snapshot archival for long-running
// conversations.
package conversation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/promptgate/pkg/crypto"
)

// Message is a single decrypted conversation turn ready for injection or
// display.
type Message struct {
	ID            uuid.UUID
	Role          string
	Content       string
	TokenEstimate int
	CreatedAt     time.Time
}

// LoadedContext is the result of loading a conversation's live state (§4.9
// load_context).
type LoadedContext struct {
	Messages              []Message
	TokenEstimate         int
	LatestSnapshotID      *uuid.UUID
	LatestSnapshotSummary *string
}

// Manager implements the conversation operations of §4.9 against Postgres,
// encrypting message and summary content with crypto.Service before it
// reaches disk.
type Manager struct {
	pool   *pgxpool.Pool
	crypto *crypto.Service
}

// New creates a Manager.
func New(pool *pgxpool.Pool, cryptoSvc *crypto.Service) *Manager {
	return &Manager{pool: pool, crypto: cryptoSvc}
}

// GetOrCreatePartition upserts a partition by (tenant, external_id,
// parent=NULL) (§4.9 get_or_create_partition).
func (m *Manager) GetOrCreatePartition(ctx context.Context, tenantID uuid.UUID, externalID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := m.pool.QueryRow(ctx, `
		INSERT INTO partitions (id, tenant_id, parent_id, external_id)
		VALUES ($1, $2, NULL, $3)
		ON CONFLICT (tenant_id, external_id) WHERE parent_id IS NULL
		DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id`,
		uuid.New(), tenantID, externalID,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: get or create partition: %w", err)
	}
	return id, nil
}

// ConversationResult is the outcome of GetOrCreateConversation.
type ConversationResult struct {
	ID    uuid.UUID
	IsNew bool
}

// GetOrCreateConversation upserts by (tenant, partition, external_id). On a
// hit it touches last_active_at; on a miss it inserts and reports
// IsNew=true (§4.9 get_or_create_conversation).
func (m *Manager) GetOrCreateConversation(ctx context.Context, tenantID uuid.UUID, partitionID *uuid.UUID, externalID string, agentID uuid.UUID) (ConversationResult, error) {
	conflictTarget := "(tenant_id, partition_id, external_id) WHERE partition_id IS NOT NULL"
	if partitionID == nil {
		conflictTarget = "(tenant_id, external_id) WHERE partition_id IS NULL"
	}

	var id uuid.UUID
	var isNew bool
	err := m.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, agent_id, partition_id, external_id, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT `+conflictTarget+`
		DO UPDATE SET last_active_at = now()
		RETURNING id, (xmax = 0)`,
		uuid.New(), tenantID, agentID, partitionID, externalID,
	).Scan(&id, &isNew)
	if err != nil {
		return ConversationResult{}, fmt.Errorf("conversation: get or create conversation: %w", err)
	}
	return ConversationResult{ID: id, IsNew: isNew}, nil
}

// LoadContext fetches the most recent snapshot (decrypted, skipped silently
// on decrypt failure) and every message with snapshot_id IS NULL in
// ascending created_at order (decrypted per-message, skipped silently on
// decrypt failure), summing token estimates (§4.9 load_context).
func (m *Manager) LoadContext(ctx context.Context, tenantID, conversationID uuid.UUID) (*LoadedContext, error) {
	out := &LoadedContext{}

	var snapID uuid.UUID
	var summaryCiphertext []byte
	var summaryIV string
	var keyVersion int
	err := m.pool.QueryRow(ctx, `
		SELECT id, summary_encrypted, summary_iv, encryption_key_version
		FROM conversation_snapshots
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		conversationID,
	).Scan(&snapID, &summaryCiphertext, &summaryIV, &keyVersion)
	switch {
	case err == nil:
		summary, decErr := m.crypto.DecryptString(tenantID, summaryCiphertext, summaryIV, keyVersion)
		if decErr == nil {
			out.LatestSnapshotID = &snapID
			out.LatestSnapshotSummary = &summary
		}
	case err == pgx.ErrNoRows:
		// no snapshot yet, nothing to do
	default:
		return nil, fmt.Errorf("conversation: loading latest snapshot: %w", err)
	}

	rows, err := m.pool.Query(ctx, `
		SELECT id, role, content_encrypted, content_iv, token_estimate, encryption_key_version, created_at
		FROM conversation_messages
		WHERE conversation_id = $1 AND snapshot_id IS NULL
		ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var role string
		var contentCiphertext []byte
		var contentIV string
		var tokenEstimate *int
		var msgKeyVersion int
		var createdAt time.Time
		if err := rows.Scan(&id, &role, &contentCiphertext, &contentIV, &tokenEstimate, &msgKeyVersion, &createdAt); err != nil {
			return nil, fmt.Errorf("conversation: scanning message: %w", err)
		}

		content, decErr := m.crypto.DecryptString(tenantID, contentCiphertext, contentIV, msgKeyVersion)
		if decErr != nil {
			continue
		}

		estimate := 0
		if tokenEstimate != nil {
			estimate = *tokenEstimate
		} else {
			estimate = int(math.Ceil(float64(len(content)) / 4))
		}

		out.Messages = append(out.Messages, Message{
			ID:            id,
			Role:          role,
			Content:       content,
			TokenEstimate: estimate,
			CreatedAt:     createdAt,
		})
		out.TokenEstimate += estimate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterating messages: %w", err)
	}

	return out, nil
}

// InjectedMessage is a message shape ready to be spliced into an outgoing
// chat-completion request body.
type InjectedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildInjection turns a LoadedContext into the ordered list of messages to
// inject ahead of the caller's new turn: a synthetic snapshot-summary
// system message (if one exists), followed by the live messages in order
// (§4.9 build_injection).
func BuildInjection(lc *LoadedContext) []InjectedMessage {
	var out []InjectedMessage
	if lc.LatestSnapshotSummary != nil {
		out = append(out, InjectedMessage{
			Role:    "system",
			Content: "Previous conversation summary:\n" + *lc.LatestSnapshotSummary,
		})
	}
	for _, msg := range lc.Messages {
		out = append(out, InjectedMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// StoreMessages encrypts and inserts the user and assistant turns of one
// exchange in a single statement, user row first (§4.9 store_messages).
// New rows carry snapshot_id = NULL.
func (m *Manager) StoreMessages(ctx context.Context, tenantID, conversationID uuid.UUID, userContent, assistantContent string, traceID *uuid.UUID) error {
	userCiphertext, userIV, err := m.crypto.EncryptString(tenantID, userContent)
	if err != nil {
		return fmt.Errorf("conversation: encrypting user message: %w", err)
	}
	assistantCiphertext, assistantIV, err := m.crypto.EncryptString(tenantID, assistantContent)
	if err != nil {
		return fmt.Errorf("conversation: encrypting assistant message: %w", err)
	}

	_, err = m.pool.Exec(ctx, `
		INSERT INTO conversation_messages
			(id, conversation_id, role, content_encrypted, content_iv, trace_id, encryption_key_version, created_at)
		VALUES
			($1, $2, 'user', $3, $4, $5, $6, now()),
			($7, $8, 'assistant', $9, $10, $11, $12, now())`,
		uuid.New(), conversationID, userCiphertext, userIV, traceID, m.crypto.KeyVersion(),
		uuid.New(), conversationID, assistantCiphertext, assistantIV, traceID, m.crypto.KeyVersion(),
	)
	if err != nil {
		return fmt.Errorf("conversation: storing messages: %w", err)
	}
	return nil
}

// CreateSnapshot encrypts summaryText, inserts a snapshot row, and sets
// snapshot_id on every currently-unarchived message of the conversation
// (§4.9 create_snapshot).
func (m *Manager) CreateSnapshot(ctx context.Context, tenantID, conversationID uuid.UUID, summaryText string, messagesArchived int) (uuid.UUID, error) {
	ciphertext, iv, err := m.crypto.EncryptString(tenantID, summaryText)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: encrypting summary: %w", err)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: beginning snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	snapshotID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_snapshots
			(id, conversation_id, summary_encrypted, summary_iv, messages_archived, encryption_key_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		snapshotID, conversationID, ciphertext, iv, messagesArchived, m.crypto.KeyVersion(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: inserting snapshot: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversation_messages
		SET snapshot_id = $1
		WHERE conversation_id = $2 AND snapshot_id IS NULL`,
		snapshotID, conversationID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("conversation: archiving messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("conversation: committing snapshot: %w", err)
	}
	return snapshotID, nil
}
