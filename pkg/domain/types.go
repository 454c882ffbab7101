package domain

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleFree    UserRole = "free"
	RolePremium UserRole = "premium"
	RoleAdmin   UserRole = "admin"
	RoleSystem  UserRole = "system"
)

// ParseUserRole normalizes a stored role. Legacy labels ("Pauvre", "Riche")
// map onto the current tiers; anything unknown falls back to free.
func ParseUserRole(raw string) UserRole {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "premium", "riche":
		return RolePremium
	case "admin":
		return RoleAdmin
	case "system":
		return RoleSystem
	default:
		return RoleFree
	}
}

// Unlimited reports whether the role is exempt from the exchange quota.
func (r UserRole) Unlimited() bool {
	switch r {
	case RolePremium, RoleAdmin, RoleSystem:
		return true
	default:
		return false
	}
}

const (
	// SystemActorEmail identifies the Assistant account.
	SystemActorEmail = "assistant@livre2main.local"
	SystemActorName  = "Assistant"

	// SentinelBookID anchors Assistant threads not tied to a concrete book.
	SentinelBookID     = "livre2main-sentinel-book"
	SentinelBookTitle  = "Proposition d'échange"
	SentinelBookAuthor = "Assistant"
	SentinelBookGenre  = "system"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Surname      string    `json:"surname"`
	Email        string    `json:"email"`
	City         string    `json:"villes,omitempty"`
	Age          int       `json:"age,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DisplayName joins name and surname.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// Book is a shared catalog entry.
type Book struct {
	ID     string `json:"id"`
	Title  string `json:"nom"`
	Author string `json:"auteur"`
	Genre  string `json:"genre,omitempty"`
}

// PersonalBook is a book listed by one user, independent of the catalog.
type PersonalBook struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors,omitempty"`
	CoverURL    string    `json:"cover_url,omitempty"`
	InfoLink    string    `json:"info_link,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Emprunt is both a real loan between two users and a messaging thread key.
// ThreadKey is set only for Assistant threads created by the registry.
type Emprunt struct {
	ID        string    `json:"id"`
	UserID1   string    `json:"id_user1"`
	UserID2   string    `json:"id_user2"`
	BookID    string    `json:"id_livre"`
	ThreadKey string    `json:"-"`
	CreatedAt time.Time `json:"datetime"`
}

// Involves reports whether userID is one of the two participants.
func (e Emprunt) Involves(userID string) bool {
	return e.UserID1 == userID || e.UserID2 == userID
}

// ThreadKey is the order-independent identity of a registry thread.
func ThreadKey(userA, userB, bookID string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB + ":" + bookID
}

// Other returns the participant that is not userID.
func (e Emprunt) Other(userID string) string {
	if e.UserID1 == userID {
		return e.UserID2
	}
	return e.UserID1
}

type Message struct {
	ID         string           `json:"id"`
	EmpruntID  string           `json:"id_emprunt"`
	SenderID   string           `json:"id_sender"`
	Text       string           `json:"message_text"`
	IsRead     bool             `json:"is_read"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`
	ProposalID string           `json:"proposal_id,omitempty"`
	CreatedAt  time.Time        `json:"datetime"`
}

// MessageWithSender adds the sender identity for thread listings.
type MessageWithSender struct {
	Message
	SenderName    string `json:"sender_name"`
	SenderSurname string `json:"sender_surname"`
}

// ConversationSummary is one row of the caller's inbox.
type ConversationSummary struct {
	EmpruntID        string     `json:"id_emprunt"`
	OtherUserID      string     `json:"other_user_id"`
	OtherUserName    string     `json:"other_user_name"`
	OtherUserSurname string     `json:"other_user_surname"`
	BookTitle        string     `json:"livre_nom"`
	LastMessage      string     `json:"last_message,omitempty"`
	LastMessageTime  *time.Time `json:"last_message_time,omitempty"`
	UnreadCount      int        `json:"unread_count"`
	CreatedAt        time.Time  `json:"-"`
}
