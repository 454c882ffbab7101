package app

import (
	"context"
	"fmt"
	"time"

	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/pkg/store"
)

// ResolveOrCreateConversation returns the single thread between userA and userB
// for bookID, creating it on first use. Pair order does not matter.
func (a *App) ResolveOrCreateConversation(ctx context.Context, userA, userB, bookID string) (string, error) {
	return resolveOrCreateConversation(ctx, a.store, userA, userB, bookID, a.now())
}

func resolveOrCreateConversation(ctx context.Context, st store.Store, userA, userB, bookID string, now time.Time) (string, error) {
	if userA == userB {
		return "", validation(msgSelfLoan)
	}
	existing, ok, err := st.FindEmprunt(ctx, userA, userB, bookID)
	if err != nil {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	if ok {
		return existing.ID, nil
	}
	// Concurrent creators collide on thread_key; the loser re-reads the winner's row.
	if err := st.CreateThreadIfAbsent(ctx, domain.Emprunt{
		ID:        util.NewID(),
		UserID1:   userA,
		UserID2:   userB,
		BookID:    bookID,
		ThreadKey: domain.ThreadKey(userA, userB, bookID),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	created, ok, err := st.FindEmprunt(ctx, userA, userB, bookID)
	if err != nil {
		return "", fmt.Errorf("reload conversation: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("conversation %s missing after insert", domain.ThreadKey(userA, userB, bookID))
	}
	return created.ID, nil
}
