package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"livre2main/internal/util"
	"livre2main/pkg/auth"
	"livre2main/pkg/domain"
	"livre2main/pkg/queue"
	"livre2main/pkg/store"
)

const defaultPaymentTokenTTL = 15 * time.Minute

// Config holds runtime configuration for the exchange application.
type Config struct {
	Store           store.Store
	PaymentTokens   store.PaymentTokenStore
	Events          queue.Publisher
	PaymentTokenTTL time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// App is the exchange core: quota policy, conversation registry, proposal
// ledger, loan materialization and notifications over one Store.
type App struct {
	store    store.Store
	tokens   store.PaymentTokenStore
	events   queue.Publisher
	tokenTTL time.Duration
	now      func() time.Time
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	ttl := cfg.PaymentTokenTTL
	if ttl <= 0 {
		ttl = defaultPaymentTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:    cfg.Store,
		tokens:   cfg.PaymentTokens,
		events:   cfg.Events,
		tokenTTL: ttl,
		now:      now,
	}, nil
}

// Bootstrap guarantees the Assistant account and the sentinel book exist.
// It must run before the server accepts traffic and is safe to repeat.
func (a *App) Bootstrap(ctx context.Context) error {
	hash, err := auth.UnusablePasswordHash()
	if err != nil {
		return fmt.Errorf("assistant password: %w", err)
	}
	return a.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.LockKeys(ctx, "bootstrap"); err != nil {
			return err
		}
		system, err := tx.CreateUserIfAbsent(ctx, domain.User{
			ID:           util.NewID(),
			Name:         domain.SystemActorName,
			Surname:      "",
			Email:        domain.SystemActorEmail,
			PasswordHash: hash,
			Role:         domain.RoleSystem,
			CreatedAt:    a.now(),
		})
		if err != nil {
			return fmt.Errorf("ensure assistant: %w", err)
		}
		if system.Role != domain.RoleSystem {
			if err := tx.SetUserRole(ctx, system.ID, domain.RoleSystem); err != nil {
				return fmt.Errorf("promote assistant: %w", err)
			}
		}
		if _, ok, err := tx.GetBook(ctx, domain.SentinelBookID); err != nil {
			return fmt.Errorf("find sentinel book: %w", err)
		} else if !ok {
			if err := tx.SaveBook(ctx, domain.Book{
				ID:     domain.SentinelBookID,
				Title:  domain.SentinelBookTitle,
				Author: domain.SentinelBookAuthor,
				Genre:  domain.SentinelBookGenre,
			}); err != nil {
				return fmt.Errorf("create sentinel book: %w", err)
			}
		}
		slog.Info("exchange bootstrap complete", "assistant_id", system.ID)
		return nil
	})
}

// Ping reports whether the store is reachable.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// UserByEmail resolves the authenticated identity to a user.
func (a *App) UserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return a.store.GetUserByEmail(ctx, email)
}

// systemActor loads the Assistant account; absence is an internal error.
func systemActor(ctx context.Context, st store.Store) (domain.User, error) {
	u, ok, err := st.GetUserByEmail(ctx, domain.SystemActorEmail)
	if err != nil {
		return domain.User{}, fmt.Errorf("load assistant: %w", err)
	}
	if !ok {
		return domain.User{}, fmt.Errorf("assistant account: %w", ErrNotBootstrapped)
	}
	return u, nil
}

// sentinelBook loads the placeholder catalog entry; absence is an internal error.
func sentinelBook(ctx context.Context, st store.Store) (domain.Book, error) {
	b, ok, err := st.GetBook(ctx, domain.SentinelBookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load sentinel book: %w", err)
	}
	if !ok {
		return domain.Book{}, fmt.Errorf("sentinel book: %w", ErrNotBootstrapped)
	}
	return b, nil
}

// publish sends events after commit. Failures are logged only.
func (a *App) publish(ctx context.Context, events ...queue.Event) {
	if a.events == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	for _, evt := range events {
		if evt.OccurredAt.IsZero() {
			evt.OccurredAt = a.now()
		}
		if err := a.events.Publish(ctx, evt); err != nil {
			logger.Warn("exchange event publish failed", "type", evt.Type, "err", err)
		}
	}
}
