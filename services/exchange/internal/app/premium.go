package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livre2main/pkg/domain"
	"livre2main/pkg/store"
)

// PaymentToken is a single-use proof of payment for the premium upgrade.
type PaymentToken struct {
	Token     string    `json:"payment_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssuePaymentToken creates a payment token bound to user.
func (a *App) IssuePaymentToken(ctx context.Context, user domain.User) (PaymentToken, error) {
	if a.tokens == nil {
		return PaymentToken{}, errors.New("payment token store not configured")
	}
	if user.Role.Unlimited() {
		return PaymentToken{}, conflict(msgAlreadyPremium)
	}
	token, expiresAt, err := a.tokens.NewToken(ctx, user.ID, a.tokenTTL)
	if err != nil {
		return PaymentToken{}, fmt.Errorf("issue payment token: %w", err)
	}
	return PaymentToken{Token: token, ExpiresAt: expiresAt}, nil
}

// UpgradePremium consumes token and moves user to the premium tier.
// The token is spent even when it belongs to someone else.
func (a *App) UpgradePremium(ctx context.Context, user domain.User, token string) (domain.User, error) {
	if a.tokens == nil {
		return domain.User{}, errors.New("payment token store not configured")
	}
	owner, err := a.tokens.ConsumeToken(ctx, token)
	if errors.Is(err, store.ErrInvalidPaymentToken) {
		return domain.User{}, validation(msgInvalidPaymentToken)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("consume payment token: %w", err)
	}
	if owner != user.ID {
		return domain.User{}, forbidden(msgForeignPaymentToken)
	}
	if err := a.store.SetUserRole(ctx, user.ID, domain.RolePremium); err != nil {
		return domain.User{}, fmt.Errorf("set premium role: %w", err)
	}
	updated, ok, err := a.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("reload user: %w", err)
	}
	if !ok {
		return domain.User{}, notFound(msgUserNotFound)
	}
	return updated, nil
}
