package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Surname      string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;size:191;not null"`
	City         string `gorm:"size:100"`
	Age          int
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"size:20;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID     string `gorm:"primaryKey"`
	Title  string `gorm:"size:255;not null;index"`
	Author string `gorm:"size:255;not null"`
	Genre  string `gorm:"size:100"`
}

type PersonalBookModel struct {
	ID          string         `gorm:"primaryKey"`
	UserID      string         `gorm:"not null;index"`
	Title       string         `gorm:"size:255;not null"`
	Authors     datatypes.JSON `gorm:"type:json"`
	CoverURL    string         `gorm:"size:512"`
	InfoLink    string         `gorm:"size:512"`
	Description string         `gorm:"size:2000"`
	Source      string         `gorm:"size:50;not null"`
	SourceID    string         `gorm:"size:255"`
	CreatedAt   time.Time      `gorm:"not null"`
}

type EmpruntModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID1   string    `gorm:"column:user_id1;not null;index"`
	UserID2   string    `gorm:"column:user_id2;not null;index"`
	BookID    string    `gorm:"not null;index"`
	ThreadKey *string   `gorm:"uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID         string         `gorm:"primaryKey"`
	EmpruntID  string         `gorm:"not null;index"`
	SenderID   string         `gorm:"not null;index"`
	Text       string         `gorm:"type:text;not null"`
	IsRead     bool           `gorm:"not null;default:false"`
	Metadata   datatypes.JSON `gorm:"type:json"`
	ProposalID *string        `gorm:"index"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

type ProposalModel struct {
	ID            string         `gorm:"primaryKey"`
	Kind          string         `gorm:"size:20;not null"`
	ProposerID    string         `gorm:"not null;index"`
	ProposerName  string         `gorm:"not null"`
	ProposerEmail string         `gorm:"not null"`
	RecipientID   string         `gorm:"not null;index"`
	BookID        string         `gorm:"size:64"`
	BookTitle     string         `gorm:"size:255"`
	Actions       datatypes.JSON `gorm:"type:json"`
	Status        string         `gorm:"size:20;not null;index"`
	ResponderID   string         `gorm:"size:64"`
	RespondedAt   *time.Time
	Version       int64     `gorm:"not null;default:1"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}
