package store

import (
	"context"
	"errors"
	"time"

	"livre2main/pkg/domain"
)

// ErrVersionConflict is returned when a compare-and-swap update finds the
// row at a different version than expected.
var ErrVersionConflict = errors.New("version conflict")

// Store defines persistence operations for users, books, loans, messages and proposals.
// Lookups return found=false rather than an error when the row is absent.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	CreateUserIfAbsent(ctx context.Context, u domain.User) (domain.User, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	SetUserRole(ctx context.Context, id string, role domain.UserRole) error

	// catalog
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	FindBookByTitle(ctx context.Context, title string) (domain.Book, bool, error)

	// personal library
	SavePersonalBook(ctx context.Context, b domain.PersonalBook) error
	GetPersonalBook(ctx context.Context, id string) (domain.PersonalBook, bool, error)

	// emprunts
	CreateEmprunt(ctx context.Context, e domain.Emprunt) error
	CreateThreadIfAbsent(ctx context.Context, e domain.Emprunt) error
	GetEmprunt(ctx context.Context, id string) (domain.Emprunt, bool, error)
	FindEmprunt(ctx context.Context, userA, userB, bookID string) (domain.Emprunt, bool, error)
	ListEmpruntsByUser(ctx context.Context, userID string) ([]domain.Emprunt, error)
	CountRealEmprunts(ctx context.Context, userID, systemActorID string) (int, error)

	// messages
	AppendMessage(ctx context.Context, msg domain.Message) error
	GetMessage(ctx context.Context, id string) (domain.Message, bool, error)
	ListMessages(ctx context.Context, empruntID string) ([]domain.Message, error)
	LastMessage(ctx context.Context, empruntID string) (domain.Message, bool, error)
	CountUnread(ctx context.Context, empruntIDs []string, readerID string) (int, error)
	MarkMessageRead(ctx context.Context, id string) error
	MarkThreadRead(ctx context.Context, empruntID, readerID string) error

	// proposals
	CreateProposal(ctx context.Context, p domain.Proposal) error
	GetProposal(ctx context.Context, id string) (domain.Proposal, bool, error)
	LockProposal(ctx context.Context, id string) (domain.Proposal, bool, error)
	UpdateProposal(ctx context.Context, p domain.Proposal, expectedVersion int64) error
	ListPendingProposalsBetween(ctx context.Context, userA, userB string) ([]domain.Proposal, error)

	// LockKeys serializes concurrent transactions on the given keys until the
	// enclosing transaction ends. Outside a transaction it is a no-op.
	LockKeys(ctx context.Context, keys ...string) error
	// WithTx runs fn inside one transaction; fn must only use the Store it receives.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// PaymentTokenStore persists single-use premium upgrade tokens.
type PaymentTokenStore interface {
	NewToken(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error)
	ConsumeToken(ctx context.Context, token string) (userID string, err error)
}
