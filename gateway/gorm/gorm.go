// Package gorm provides a SQLite-backed ConversationGateway using GORM.
// Suitable for single-process clients that need conversations to survive
// restarts. Search history is stored as a JSON column on each message row;
// the ephemeral status is never persisted.
package gorm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/hupe1980/chatsync/core"
)

// conversationRow is the GORM schema for a conversation.
type conversationRow struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"index"`
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []messageRow `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

// messageRow is the GORM schema for one message.
type messageRow struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"index"`
	Position       int
	Role           string
	Content        string
	SearchHistory  string // JSON-encoded []core.SearchEntry
	RawSearchData  string
	CreatedAt      time.Time
}

// Gateway is a durable ConversationGateway over a SQLite database.
type Gateway struct {
	db *gorm.DB
}

// Open creates (or opens) the database at path, migrates the schema and
// enables WAL mode.
func Open(path string) (*Gateway, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.Exec("PRAGMA foreign_keys = ON;")
	sqlDB.Exec("PRAGMA journal_mode = WAL;")

	if err := db.AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Gateway{db: db}, nil
}

// Create stores a new conversation titled from the seed text.
func (g *Gateway) Create(ctx context.Context, ownerID, seedText string) (*core.Conversation, error) {
	conv := core.NewConversation(ownerID, seedText)
	row := conversationRow{ID: conv.ID, OwnerID: ownerID, Title: conv.Title, CreatedAt: conv.Created, UpdatedAt: conv.Updated}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Update replaces the conversation's message list in a single transaction.
func (g *Gateway) Update(ctx context.Context, conversationID string, messages []core.Message) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversationRow
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return core.ErrConversationNotFound
			}
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		for i, m := range messages {
			row, err := toMessageRow(conversationID, i, m)
			if err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return tx.Model(&conversationRow{}).Where("id = ?", conversationID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// Read returns the conversation with its ordered message list.
func (g *Gateway) Read(ctx context.Context, conversationID string) (*core.Conversation, error) {
	var conv conversationRow
	if err := g.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, core.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var rows []messageRow
	if err := g.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	messages := make([]core.Message, 0, len(rows))
	for _, row := range rows {
		m, err := fromMessageRow(row)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return &core.Conversation{
		ID:       conv.ID,
		OwnerID:  conv.OwnerID,
		Title:    conv.Title,
		Messages: messages,
		Created:  conv.CreatedAt,
		Updated:  conv.UpdatedAt,
	}, nil
}

// List returns the owner's conversation summaries, most recently updated first.
func (g *Gateway) List(ctx context.Context, ownerID string) ([]core.ConversationSummary, error) {
	var rows []conversationRow
	if err := g.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	summaries := make([]core.ConversationSummary, len(rows))
	for i, row := range rows {
		summaries[i] = core.ConversationSummary{ID: row.ID, Title: row.Title, Updated: row.UpdatedAt}
	}
	return summaries, nil
}

// Delete removes the conversation and its messages.
func (g *Gateway) Delete(ctx context.Context, conversationID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&conversationRow{}, "id = ?", conversationID).Error
	})
}

func toMessageRow(conversationID string, position int, m core.Message) (messageRow, error) {
	history := ""
	if len(m.SearchHistory) > 0 {
		raw, err := json.Marshal(m.SearchHistory)
		if err != nil {
			return messageRow{}, fmt.Errorf("failed to encode search history: %w", err)
		}
		history = string(raw)
	}
	return messageRow{
		ID:             m.ID,
		ConversationID: conversationID,
		Position:       position,
		Role:           string(m.Role),
		Content:        m.Content,
		SearchHistory:  history,
		RawSearchData:  core.CapRawSearchData(m.RawSearchData),
		CreatedAt:      m.CreatedAt,
	}, nil
}

func fromMessageRow(row messageRow) (core.Message, error) {
	m := core.Message{
		ID:            row.ID,
		Role:          core.Role(row.Role),
		Content:       row.Content,
		RawSearchData: row.RawSearchData,
		CreatedAt:     row.CreatedAt,
	}
	if row.SearchHistory != "" {
		if err := json.Unmarshal([]byte(row.SearchHistory), &m.SearchHistory); err != nil {
			return core.Message{}, fmt.Errorf("failed to decode search history: %w", err)
		}
	}
	return m, nil
}
