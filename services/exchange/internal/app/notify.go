package app

import (
	"fmt"
	"strings"
	"time"

	"livre2main/pkg/domain"
)

// notification is one system message to write into a user's Assistant thread.
type notification struct {
	recipientID string
	text        string
	meta        *domain.MessageMetadata
}

// outcome is everything the composer needs about a resolved proposal.
type outcome struct {
	proposal  domain.Proposal
	proposer  domain.User
	responder domain.User
	status    domain.ProposalStatus
	received  string // by the proposer
	given     string // by the proposer
	loanID    string
	at        time.Time
}

func quoted(title string) string {
	return "« " + strings.TrimSpace(title) + " »"
}

func displayName(u domain.User) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return u.Email
}

// proposalText renders the body of a pending proposal message.
func proposalText(p domain.Proposal) string {
	name := strings.TrimSpace(p.ProposerName)
	if name == "" {
		name = p.ProposerEmail
	}
	if p.Kind == domain.KindBookProposal {
		return fmt.Sprintf("%s souhaite échanger votre livre %s. Choisissez en retour un livre de sa bibliothèque.", name, quoted(p.BookTitle))
	}
	if strings.TrimSpace(p.BookTitle) != "" {
		return fmt.Sprintf("%s vous propose un échange autour du livre %s.", name, quoted(p.BookTitle))
	}
	return fmt.Sprintf("%s vous propose un échange de livres.", name)
}

// composeOutcome renders the messages announcing o.
// A trade with a book on each side notifies both parties; other outcomes notify the proposer only.
func composeOutcome(o outcome) []notification {
	at := o.at.UTC()
	responderName := displayName(o.responder)

	if o.status == domain.ProposalRejected {
		return []notification{{
			recipientID: o.proposer.ID,
			text:        fmt.Sprintf("%s a refusé votre proposition d'échange.", responderName),
			meta: &domain.MessageMetadata{
				Type:          domain.MetaProposalRejected,
				ProposalID:    o.proposal.ID,
				BookID:        o.proposal.BookID,
				BookTitle:     o.proposal.BookTitle,
				Status:        domain.ProposalRejected,
				ResponderID:   o.responder.ID,
				ResponderName: responderName,
				ResponseTime:  &at,
			},
		}}
	}

	received := strings.TrimSpace(o.received)
	given := strings.TrimSpace(o.given)
	if received != "" && given != "" {
		proposerName := displayName(o.proposer)
		return []notification{
			{
				recipientID: o.proposer.ID,
				text: fmt.Sprintf("%s a accepté votre proposition d'échange : vous recevez %s, vous donnez %s. Contact : %s.",
					responderName, quoted(received), quoted(given), o.responder.Email),
				meta: &domain.MessageMetadata{
					Type:             domain.MetaProposalAccepted,
					ProposalID:       o.proposal.ID,
					Status:           domain.ProposalAccepted,
					ResponderID:      o.responder.ID,
					ResponderName:    responderName,
					ResponderEmail:   o.responder.Email,
					ResponseTime:     &at,
					BookReceived:     received,
					BookGiven:        given,
					EmpruntID:        o.loanID,
					CounterpartID:    o.responder.ID,
					CounterpartName:  responderName,
					CounterpartEmail: o.responder.Email,
				},
			},
			{
				recipientID: o.responder.ID,
				text: fmt.Sprintf("Échange confirmé avec %s : vous recevez %s, vous donnez %s. Contact : %s.",
					proposerName, quoted(given), quoted(received), o.proposer.Email),
				meta: &domain.MessageMetadata{
					Type:             domain.MetaExchangeConfirmed,
					ProposalID:       o.proposal.ID,
					Status:           domain.ProposalAccepted,
					ResponderID:      o.responder.ID,
					ResponseTime:     &at,
					BookReceived:     given,
					BookGiven:        received,
					EmpruntID:        o.loanID,
					CounterpartID:    o.proposer.ID,
					CounterpartName:  proposerName,
					CounterpartEmail: o.proposer.Email,
				},
			},
		}
	}

	return []notification{{
		recipientID: o.proposer.ID,
		text:        fmt.Sprintf("%s a accepté votre proposition d'échange. Contact : %s.", responderName, o.responder.Email),
		meta: &domain.MessageMetadata{
			Type:           domain.MetaProposalAccepted,
			ProposalID:     o.proposal.ID,
			BookID:         o.proposal.BookID,
			BookTitle:      o.proposal.BookTitle,
			Status:         domain.ProposalAccepted,
			ResponderID:    o.responder.ID,
			ResponderName:  responderName,
			ResponderEmail: o.responder.Email,
			ResponseTime:   &at,
			EmpruntID:      o.loanID,
		},
	}}
}
