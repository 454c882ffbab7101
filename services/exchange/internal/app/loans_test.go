package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"livre2main/pkg/domain"
	"livre2main/pkg/queue"
)

func TestCreateLoanValidation(t *testing.T) {
	env := newEnv(t)
	alice := env.user(t, "alice", domain.RoleFree)
	env.user(t, "bob", domain.RoleFree)
	carol := env.user(t, "carol", domain.RoleFree)
	admin := env.user(t, "admin", domain.RoleAdmin)
	require.NoError(t, env.store.SaveBook(env.ctx, domain.Book{ID: "k-1", Title: "Dune", Author: "Frank Herbert"}))

	_, err := env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: "alice", BookID: "k-1"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.app.CreateLoan(env.ctx, carol, CreateLoanRequest{UserID1: "alice", UserID2: "bob", BookID: "k-1"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: "ghost", BookID: "k-1"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: "bob", BookID: "nope"})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: env.system(t).ID, BookID: "k-1"})
	require.ErrorIs(t, err, ErrValidation)

	loan, err := env.app.CreateLoan(env.ctx, admin, CreateLoanRequest{UserID1: "alice", UserID2: "bob", BookID: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", loan.UserID1)
	assert.Equal(t, "bob", loan.UserID2)
	assert.Contains(t, env.events.types(), queue.EventLoanCreated)

	_, err = env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: "carol", BookID: "k-1"})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, msgQuotaExceeded, UserMessage(err))
	_, err = env.app.CreateLoan(env.ctx, carol, CreateLoanRequest{UserID1: "carol", UserID2: "alice", BookID: "k-1"})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, msgCounterpartQuota, UserMessage(err))
}

func TestGetAndListLoans(t *testing.T) {
	env := newEnv(t)
	alice := env.user(t, "alice", domain.RolePremium)
	bob := env.user(t, "bob", domain.RolePremium)
	carol := env.user(t, "carol", domain.RoleFree)
	admin := env.user(t, "admin", domain.RoleAdmin)
	require.NoError(t, env.store.SaveBook(env.ctx, domain.Book{ID: "k-1", Title: "Dune", Author: "Frank Herbert"}))

	borrowed, err := env.app.CreateLoan(env.ctx, alice, CreateLoanRequest{UserID1: "alice", UserID2: "bob", BookID: "k-1"})
	require.NoError(t, err)
	lent, err := env.app.CreateLoan(env.ctx, bob, CreateLoanRequest{UserID1: "bob", UserID2: "alice", BookID: "k-1"})
	require.NoError(t, err)
	assert.NotEqual(t, borrowed.ID, lent.ID)

	got, err := env.app.GetLoan(env.ctx, bob, borrowed.ID)
	require.NoError(t, err)
	assert.Equal(t, borrowed.ID, got.ID)
	_, err = env.app.GetLoan(env.ctx, carol, borrowed.ID)
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.app.GetLoan(env.ctx, admin, borrowed.ID)
	require.NoError(t, err)
	_, err = env.app.GetLoan(env.ctx, alice, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := env.app.ListLoans(env.ctx, alice, "alice", LoanAnySide)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	asBorrower, err := env.app.ListLoans(env.ctx, alice, "alice", LoanBorrower)
	require.NoError(t, err)
	require.Len(t, asBorrower, 1)
	assert.Equal(t, borrowed.ID, asBorrower[0].ID)
	asLender, err := env.app.ListLoans(env.ctx, admin, "alice", LoanLender)
	require.NoError(t, err)
	require.Len(t, asLender, 1)
	assert.Equal(t, lent.ID, asLender[0].ID)

	_, err = env.app.ListLoans(env.ctx, carol, "alice", LoanAnySide)
	require.ErrorIs(t, err, ErrForbidden)
}
