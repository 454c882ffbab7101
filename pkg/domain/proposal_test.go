package domain

import (
	"errors"
	"testing"
	"time"
)

func TestProposalResolveOnlyOnce(t *testing.T) {
	p := Proposal{ID: "p-1", Kind: KindProposal, Status: ProposalPending, Version: 1}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	accepted, err := p.Resolve(ProposalAccepted, "user-b", at)
	if err != nil {
		t.Fatalf("resolve pending: %v", err)
	}
	if accepted.Status != ProposalAccepted || accepted.ResponderID != "user-b" {
		t.Fatalf("unexpected resolved proposal: %+v", accepted)
	}
	if accepted.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", accepted.Version)
	}
	if accepted.RespondedAt == nil || !accepted.RespondedAt.Equal(at) {
		t.Fatalf("expected response time %v, got %v", at, accepted.RespondedAt)
	}

	again, err := accepted.Resolve(ProposalRejected, "user-b", at.Add(time.Minute))
	if !errors.Is(err, ErrProposalResolved) {
		t.Fatalf("expected ErrProposalResolved, got %v", err)
	}
	if again.Status != ProposalAccepted {
		t.Fatalf("status must not change after a second resolve, got %s", again.Status)
	}
}

func TestProposalResolveRejectsNonTerminalTarget(t *testing.T) {
	p := Proposal{Status: ProposalPending}
	if _, err := p.Resolve(ProposalPending, "x", time.Now()); err == nil {
		t.Fatalf("expected error when resolving to pending")
	}
}

func TestParseUserRoleLegacyLabels(t *testing.T) {
	cases := map[string]UserRole{
		"Pauvre":  RoleFree,
		"":        RoleFree,
		"Riche":   RolePremium,
		"PREMIUM": RolePremium,
		"Admin":   RoleAdmin,
		"system":  RoleSystem,
	}
	for raw, want := range cases {
		if got := ParseUserRole(raw); got != want {
			t.Fatalf("ParseUserRole(%q) = %s, want %s", raw, got, want)
		}
	}
	if RoleFree.Unlimited() {
		t.Fatalf("free tier must be limited")
	}
	if !RolePremium.Unlimited() || !RoleSystem.Unlimited() || !RoleAdmin.Unlimited() {
		t.Fatalf("premium, admin and system must be unlimited")
	}
}

func TestProposalMetadataKinds(t *testing.T) {
	p := Proposal{ID: "p-1", Kind: KindBookProposal, Status: ProposalPending, Actions: DefaultActions(KindBookProposal)}
	meta := ProposalMetadata(p)
	if meta.Type != MetaBookProposal || !meta.IsProposal() {
		t.Fatalf("expected actionable book_proposal metadata, got %+v", meta)
	}
	var plain *MessageMetadata
	if plain.IsProposal() {
		t.Fatalf("nil metadata is not a proposal")
	}
	if (&MessageMetadata{Type: MetaProposalAccepted}).IsProposal() {
		t.Fatalf("outcome metadata is not a proposal")
	}
}

func TestThreadKeyIgnoresPairOrder(t *testing.T) {
	if ThreadKey("b", "a", "book") != ThreadKey("a", "b", "book") {
		t.Fatalf("thread key must not depend on pair order")
	}
	if ThreadKey("a", "b", "book-1") == ThreadKey("a", "b", "book-2") {
		t.Fatalf("thread key must depend on the book")
	}
	e := Emprunt{UserID1: "a", UserID2: "b"}
	if !e.Involves("b") || e.Involves("c") || e.Other("a") != "b" || e.Other("b") != "a" {
		t.Fatalf("unexpected participant helpers on %+v", e)
	}
}
