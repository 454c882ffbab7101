package app

import (
	"context"
	"fmt"

	"livre2main/pkg/domain"
	"livre2main/pkg/store"
)

// freeExchangeLimit is the number of real exchanges a limited-tier user may hold.
const freeExchangeLimit = 1

// ConversationLimit describes the caller's exchange allowance.
// Limit is nil for unlimited tiers.
type ConversationLimit struct {
	Role                     domain.UserRole `json:"role"`
	IsPremium                bool            `json:"is_premium"`
	ActiveConversations      int             `json:"active_conversations"`
	Limit                    *int            `json:"limit"`
	CanCreateNewConversation bool            `json:"can_create_new_conversation"`
	Message                  string          `json:"message"`
}

// CheckExchangeQuota returns QuotaExceeded when user may not take part in another real exchange.
func (a *App) CheckExchangeQuota(ctx context.Context, user domain.User) error {
	system, err := systemActor(ctx, a.store)
	if err != nil {
		return err
	}
	return checkQuota(ctx, a.store, user, system.ID, msgQuotaExceeded)
}

// checkQuota counts real exchanges fresh on st, so callers inside a
// transaction see their own uncommitted loans.
func checkQuota(ctx context.Context, st store.Store, user domain.User, systemID, msg string) error {
	if user.ID == systemID || user.Role.Unlimited() {
		return nil
	}
	count, err := st.CountRealEmprunts(ctx, user.ID, systemID)
	if err != nil {
		return fmt.Errorf("count exchanges: %w", err)
	}
	if count >= freeExchangeLimit {
		return quotaExceeded(msg)
	}
	return nil
}

// ConversationLimit reports how many real exchanges user holds and whether one more is allowed.
func (a *App) ConversationLimit(ctx context.Context, user domain.User) (ConversationLimit, error) {
	system, err := systemActor(ctx, a.store)
	if err != nil {
		return ConversationLimit{}, err
	}
	count, err := a.store.CountRealEmprunts(ctx, user.ID, system.ID)
	if err != nil {
		return ConversationLimit{}, fmt.Errorf("count exchanges: %w", err)
	}
	out := ConversationLimit{
		Role:                user.Role,
		IsPremium:           user.Role.Unlimited(),
		ActiveConversations: count,
	}
	if out.IsPremium {
		out.CanCreateNewConversation = true
		out.Message = "Échanges illimités avec votre compte Premium"
		return out, nil
	}
	limit := freeExchangeLimit
	out.Limit = &limit
	out.CanCreateNewConversation = count < limit
	if out.CanCreateNewConversation {
		out.Message = fmt.Sprintf("Vous pouvez encore démarrer %d échange avec un compte gratuit", limit-count)
	} else {
		out.Message = msgQuotaExceeded
	}
	return out, nil
}
