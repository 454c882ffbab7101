package domain

import (
	"errors"
	"time"
)

type ProposalKind string

const (
	// KindProposal is a plain exchange offer, optionally bound to a catalog book.
	KindProposal ProposalKind = "proposal"
	// KindBookProposal asks for a book from the recipient's personal library;
	// the recipient picks what they want in return when accepting.
	KindBookProposal ProposalKind = "book_proposal"
)

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected
}

// ErrProposalResolved is returned when a terminal proposal is asked to transition again.
var ErrProposalResolved = errors.New("proposal already resolved")

// Proposal is the state record behind a proposal message.
// Version increases on every write and guards compare-and-swap updates.
type Proposal struct {
	ID            string         `json:"id"`
	Kind          ProposalKind   `json:"type"`
	ProposerID    string         `json:"proposer_id"`
	ProposerName  string         `json:"proposer_name"`
	ProposerEmail string         `json:"proposer_email"`
	RecipientID   string         `json:"recipient_id"`
	BookID        string         `json:"book_id,omitempty"`
	BookTitle     string         `json:"book_title,omitempty"`
	Actions       []string       `json:"actions"`
	Status        ProposalStatus `json:"status"`
	ResponderID   string         `json:"responder_id,omitempty"`
	RespondedAt   *time.Time     `json:"response_time,omitempty"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Pending reports whether the proposal still awaits a response.
func (p Proposal) Pending() bool {
	return p.Status == ProposalPending
}

// Resolve returns the proposal moved to a terminal status.
// Only pending proposals may be resolved, and only once.
func (p Proposal) Resolve(status ProposalStatus, responderID string, at time.Time) (Proposal, error) {
	if !p.Pending() {
		return p, ErrProposalResolved
	}
	if !status.Terminal() {
		return p, errors.New("invalid target status")
	}
	at = at.UTC()
	p.Status = status
	p.ResponderID = responderID
	p.RespondedAt = &at
	p.Version++
	return p, nil
}

// DefaultActions returns the actions offered to the recipient for a kind.
func DefaultActions(kind ProposalKind) []string {
	if kind == KindBookProposal {
		return []string{"accept", "reject", "select_book"}
	}
	return []string{"accept", "reject"}
}

type MetadataType string

const (
	MetaProposal          MetadataType = "proposal"
	MetaBookProposal      MetadataType = "book_proposal"
	MetaProposalAccepted  MetadataType = "proposal_accepted"
	MetaProposalRejected  MetadataType = "proposal_rejected"
	MetaExchangeConfirmed MetadataType = "exchange_confirmed"
)

// MessageMetadata is the structured payload carried by system messages,
// tagged by Type. Proposal messages render it from their Proposal record.
type MessageMetadata struct {
	Type MetadataType `json:"type"`

	ProposalID    string         `json:"proposal_id,omitempty"`
	ProposerID    string         `json:"proposer_id,omitempty"`
	ProposerName  string         `json:"proposer_name,omitempty"`
	ProposerEmail string         `json:"proposer_email,omitempty"`
	BookID        string         `json:"book_id,omitempty"`
	BookTitle     string         `json:"book_title,omitempty"`
	Actions       []string       `json:"actions,omitempty"`
	Status        ProposalStatus `json:"status,omitempty"`

	ResponderID    string     `json:"responder_id,omitempty"`
	ResponderName  string     `json:"responder_name,omitempty"`
	ResponderEmail string     `json:"responder_email,omitempty"`
	ResponseTime   *time.Time `json:"response_time,omitempty"`

	// Titles seen from the recipient of the message.
	BookReceived string `json:"book_received,omitempty"`
	BookGiven    string `json:"book_given,omitempty"`

	EmpruntID        string `json:"emprunt_id,omitempty"`
	CounterpartID    string `json:"counterpart_id,omitempty"`
	CounterpartName  string `json:"counterpart_name,omitempty"`
	CounterpartEmail string `json:"counterpart_email,omitempty"`
}

// IsProposal reports whether the metadata describes an actionable proposal.
func (m *MessageMetadata) IsProposal() bool {
	if m == nil {
		return false
	}
	return m.Type == MetaProposal || m.Type == MetaBookProposal
}

// ProposalMetadata renders the message payload for a proposal record.
func ProposalMetadata(p Proposal) *MessageMetadata {
	meta := &MessageMetadata{
		Type:          MetaProposal,
		ProposalID:    p.ID,
		ProposerID:    p.ProposerID,
		ProposerName:  p.ProposerName,
		ProposerEmail: p.ProposerEmail,
		BookID:        p.BookID,
		BookTitle:     p.BookTitle,
		Actions:       append([]string(nil), p.Actions...),
		Status:        p.Status,
		ResponderID:   p.ResponderID,
		ResponseTime:  p.RespondedAt,
	}
	if p.Kind == KindBookProposal {
		meta.Type = MetaBookProposal
	}
	return meta
}
