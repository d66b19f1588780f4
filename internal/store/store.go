// Package store persists conversations, messages and health records in
// SQLite via gorm.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the database handle with the operations the chat core needs.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&Conversation{},
		&Message{},
		&Profile{},
		&Allergy{},
		&Medication{},
		&ChronicDisease{},
		&FamilyHistory{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for seeding and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recently
// updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]Conversation, error) {
	var convs []Conversation
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// UpdateConversationTitle sets the conversation's title.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}

// TouchConversation bumps the conversation's last-updated timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and all of its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Conversation{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// InsertMessage persists one finished message.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// GetProfile loads the user's profile, or nil when none exists.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &p, nil
}

// ListAllergies returns the user's recorded allergies.
func (s *Store) ListAllergies(ctx context.Context, userID string) ([]Allergy, error) {
	var recs []Allergy
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list allergies: %w", err)
	}
	return recs, nil
}

// ListMedications returns the user's medications, active and discontinued.
func (s *Store) ListMedications(ctx context.Context, userID string) ([]Medication, error) {
	var recs []Medication
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	return recs, nil
}

// ListChronicDiseases returns the user's chronic conditions.
func (s *Store) ListChronicDiseases(ctx context.Context, userID string) ([]ChronicDisease, error) {
	var recs []ChronicDisease
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list chronic diseases: %w", err)
	}
	return recs, nil
}

// ListFamilyHistory returns the user's family history entries.
func (s *Store) ListFamilyHistory(ctx context.Context, userID string) ([]FamilyHistory, error) {
	var recs []FamilyHistory
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list family history: %w", err)
	}
	return recs, nil
}
