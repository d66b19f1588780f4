package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is one chat thread owned by a single user.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	OwnerID   string    `json:"owner_id" gorm:"index;not null"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is a single turn in a conversation. Attachments are stored
// inline as a JSON column.
type Message struct {
	ID             string         `json:"id" gorm:"primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"index;not null"`
	Role           string         `json:"role"`
	Content        string         `json:"content" gorm:"type:text"`
	Attachments    datatypes.JSON `json:"attachments,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"autoCreateTime"`
}

func (Message) TableName() string { return "messages" }

// Attachment describes one uploaded file referenced by a message. The
// underlying storage object is managed elsewhere; only metadata lives here.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// EncodeAttachments serializes attachment metadata for the message column.
func EncodeAttachments(atts []Attachment) (datatypes.JSON, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeAttachments deserializes the message attachment column.
func DecodeAttachments(raw datatypes.JSON) ([]Attachment, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var atts []Attachment
	if err := json.Unmarshal(raw, &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

// Profile holds the demographic summary attached to assistant requests.
type Profile struct {
	UserID    string `json:"user_id" gorm:"primaryKey"`
	FullName  string `json:"full_name"`
	BirthYear int    `json:"birth_year"`
	Gender    string `json:"gender"`
	BloodType string `json:"blood_type"`
}

func (Profile) TableName() string { return "profiles" }

// Allergy is one recorded allergy for a user.
type Allergy struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	UserID   string `json:"user_id" gorm:"index;not null"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

func (Allergy) TableName() string { return "allergies" }

// Medication is one prescribed medication, active or discontinued.
type Medication struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index;not null"`
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Active bool   `json:"active"`
}

func (Medication) TableName() string { return "medications" }

// ChronicDisease is one diagnosed chronic condition.
type ChronicDisease struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	UserID      string `json:"user_id" gorm:"index;not null"`
	Name        string `json:"name"`
	DiagnosedIn int    `json:"diagnosed_in"`
}

func (ChronicDisease) TableName() string { return "chronic_diseases" }

// FamilyHistory is one relative's recorded condition.
type FamilyHistory struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	UserID    string `json:"user_id" gorm:"index;not null"`
	Relation  string `json:"relation"`
	Condition string `json:"condition"`
}

func (FamilyHistory) TableName() string { return "family_history" }
