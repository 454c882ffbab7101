package app

import (
	"context"
	"fmt"
	"strings"

	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/pkg/queue"
	"livre2main/pkg/store"
)

// CreateLoanRequest registers a direct loan: UserID1 borrows BookID from UserID2.
type CreateLoanRequest struct {
	UserID1 string
	UserID2 string
	BookID  string
}

// CreateLoan records a direct loan between two users, one of whom must be the caller.
// Limited-tier participants are held to the exchange quota.
func (a *App) CreateLoan(ctx context.Context, caller domain.User, req CreateLoanRequest) (domain.Emprunt, error) {
	u1 := strings.TrimSpace(req.UserID1)
	u2 := strings.TrimSpace(req.UserID2)
	bookID := strings.TrimSpace(req.BookID)
	if u1 == u2 {
		return domain.Emprunt{}, validation(msgSelfLoan)
	}
	if caller.ID != u1 && caller.ID != u2 && caller.Role != domain.RoleAdmin {
		return domain.Emprunt{}, forbidden(msgLoanNotParticipant)
	}
	var loan domain.Emprunt
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockKeys(ctx, userLockKey(u1), userLockKey(u2)); err != nil {
			return fmt.Errorf("lock pair: %w", err)
		}
		user1, ok1, err := tx.GetUserByID(ctx, u1)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		user2, ok2, err := tx.GetUserByID(ctx, u2)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if !ok1 || !ok2 {
			return notFound(msgLoanUsersNotFound)
		}
		if _, ok, err := tx.GetBook(ctx, bookID); err != nil {
			return fmt.Errorf("load book: %w", err)
		} else if !ok {
			return notFound(msgBookNotFound)
		}
		system, err := systemActor(ctx, tx)
		if err != nil {
			return err
		}
		if user1.ID == system.ID || user2.ID == system.ID {
			return validation(msgProposeToAssistant)
		}
		for _, u := range []domain.User{user1, user2} {
			msg := msgQuotaExceeded
			if u.ID != caller.ID {
				msg = msgCounterpartQuota
			}
			if err := checkQuota(ctx, tx, u, system.ID, msg); err != nil {
				return err
			}
		}
		loan, err = materializeExchange(ctx, tx, user1.ID, user2.ID, bookID, a.now())
		return err
	})
	if err != nil {
		return domain.Emprunt{}, err
	}
	util.LoggerFromContext(ctx).Info("loan_created", "emprunt_id", loan.ID, "user_id1", loan.UserID1, "user_id2", loan.UserID2)
	a.publish(ctx, queue.Event{
		Type:          queue.EventLoanCreated,
		EmpruntID:     loan.ID,
		ActorID:       caller.ID,
		CounterpartID: loan.Other(caller.ID),
		BookID:        loan.BookID,
	})
	return loan, nil
}

// GetLoan returns one loan visible to the caller.
func (a *App) GetLoan(ctx context.Context, caller domain.User, id string) (domain.Emprunt, error) {
	loan, ok, err := a.store.GetEmprunt(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Emprunt{}, fmt.Errorf("load loan: %w", err)
	}
	if !ok {
		return domain.Emprunt{}, notFound(msgEmpruntNotFound)
	}
	if !loan.Involves(caller.ID) && caller.Role != domain.RoleAdmin {
		return domain.Emprunt{}, forbidden(msgNotParticipant)
	}
	return loan, nil
}

// LoanRole filters ListLoans by the side the user is on.
type LoanRole int

const (
	LoanAnySide LoanRole = iota
	// LoanBorrower keeps loans where the user is user1.
	LoanBorrower
	// LoanLender keeps loans where the user is user2.
	LoanLender
)

// ListLoans lists the loans and conversations of userID. Only the user or an admin may list them.
func (a *App) ListLoans(ctx context.Context, caller domain.User, userID string, side LoanRole) ([]domain.Emprunt, error) {
	userID = strings.TrimSpace(userID)
	if caller.ID != userID && caller.Role != domain.RoleAdmin {
		return nil, forbidden(msgLoanListForbidden)
	}
	items, err := a.store.ListEmpruntsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	out := make([]domain.Emprunt, 0, len(items))
	for _, e := range items {
		switch side {
		case LoanBorrower:
			if e.UserID1 != userID {
				continue
			}
		case LoanLender:
			if e.UserID2 != userID {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}
