package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/pkg/queue"
	"livre2main/pkg/store"
)

// ProposeRequest is the input of both proposal entry points.
// For a plain proposal BookID is a catalog id; for a book proposal it is an
// entry of the recipient's personal library.
type ProposeRequest struct {
	TargetUserID string
	BookID       string
	BookTitle    string
}

// ProposalReceipt identifies the records created for a new proposal.
type ProposalReceipt struct {
	EmpruntID  string `json:"emprunt_id"`
	TargetUser string `json:"target_user,omitempty"`
	BookTitle  string `json:"book_title,omitempty"`
	ProposalID string `json:"proposal_id"`
	MessageID  string `json:"message_id"`
}

// ProposeExchange offers an exchange to the target user, optionally about a catalog book.
func (a *App) ProposeExchange(ctx context.Context, proposer domain.User, req ProposeRequest) (ProposalReceipt, error) {
	return a.createProposal(ctx, proposer, domain.KindProposal, req)
}

// ProposeBookExchange asks the target user for a book of their personal library.
func (a *App) ProposeBookExchange(ctx context.Context, proposer domain.User, req ProposeRequest) (ProposalReceipt, error) {
	return a.createProposal(ctx, proposer, domain.KindBookProposal, req)
}

func (a *App) createProposal(ctx context.Context, proposer domain.User, kind domain.ProposalKind, req ProposeRequest) (ProposalReceipt, error) {
	targetID := strings.TrimSpace(req.TargetUserID)
	if targetID == "" {
		return ProposalReceipt{}, validation(msgTargetNotFound)
	}
	if targetID == proposer.ID {
		return ProposalReceipt{}, conflict(msgSelfProposal)
	}
	now := a.now()
	var receipt ProposalReceipt
	var proposal domain.Proposal
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		recipient, ok, err := tx.GetUserByID(ctx, targetID)
		if err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		if !ok {
			return notFound(msgTargetNotFound)
		}
		system, err := systemActor(ctx, tx)
		if err != nil {
			return err
		}
		if recipient.ID == system.ID {
			return validation(msgProposeToAssistant)
		}
		sentinel, err := sentinelBook(ctx, tx)
		if err != nil {
			return err
		}

		bookID, bookTitle, err := proposalBook(ctx, tx, kind, recipient.ID, req)
		if err != nil {
			return err
		}

		threadID, err := resolveOrCreateConversation(ctx, tx, system.ID, recipient.ID, sentinel.ID, now)
		if err != nil {
			return err
		}

		proposal = domain.Proposal{
			ID:            util.NewID(),
			Kind:          kind,
			ProposerID:    proposer.ID,
			ProposerName:  displayName(proposer),
			ProposerEmail: proposer.Email,
			RecipientID:   recipient.ID,
			BookID:        bookID,
			BookTitle:     bookTitle,
			Actions:       domain.DefaultActions(kind),
			Status:        domain.ProposalPending,
			Version:       1,
			CreatedAt:     now,
		}
		if err := tx.CreateProposal(ctx, proposal); err != nil {
			return fmt.Errorf("create proposal: %w", err)
		}
		msg := domain.Message{
			ID:         util.NewID(),
			EmpruntID:  threadID,
			SenderID:   system.ID,
			Text:       proposalText(proposal),
			Metadata:   domain.ProposalMetadata(proposal),
			ProposalID: proposal.ID,
			CreatedAt:  now,
		}
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append proposal message: %w", err)
		}
		receipt = ProposalReceipt{
			EmpruntID:  threadID,
			ProposalID: proposal.ID,
			MessageID:  msg.ID,
		}
		if kind == domain.KindBookProposal {
			receipt.BookTitle = bookTitle
		} else {
			receipt.TargetUser = displayName(recipient)
		}
		return nil
	})
	if err != nil {
		return ProposalReceipt{}, err
	}

	util.LoggerFromContext(ctx).Info("proposal_created",
		"proposal_id", proposal.ID,
		"kind", string(kind),
		"proposer_id", proposer.ID,
		"recipient_id", proposal.RecipientID,
	)
	a.publish(ctx, queue.Event{
		Type:          queue.EventProposalCreated,
		ProposalID:    proposal.ID,
		EmpruntID:     receipt.EmpruntID,
		ActorID:       proposer.ID,
		CounterpartID: proposal.RecipientID,
		BookID:        proposal.BookID,
	})
	return receipt, nil
}

// proposalBook validates the book reference of a new proposal and fills in its title.
func proposalBook(ctx context.Context, st store.Store, kind domain.ProposalKind, recipientID string, req ProposeRequest) (string, string, error) {
	bookID := strings.TrimSpace(req.BookID)
	title := strings.TrimSpace(req.BookTitle)
	if kind == domain.KindBookProposal {
		if bookID != "" {
			entry, ok, err := st.GetPersonalBook(ctx, bookID)
			if err != nil {
				return "", "", fmt.Errorf("load personal book: %w", err)
			}
			if !ok {
				return "", "", notFound(msgPersonalBookNotFound)
			}
			if entry.UserID != recipientID {
				return "", "", forbidden(msgPersonalBookForeign)
			}
			if title == "" {
				title = entry.Title
			}
		}
		if title == "" {
			return "", "", validation(msgBookTitleRequired)
		}
		return bookID, title, nil
	}
	if bookID == "" {
		return "", title, nil
	}
	book, ok, err := st.GetBook(ctx, bookID)
	if err != nil {
		return "", "", fmt.Errorf("load book: %w", err)
	}
	if !ok {
		return "", "", notFound(msgBookNotFound)
	}
	if title == "" {
		title = book.Title
	}
	return book.ID, title, nil
}

// Decision values accepted by RespondToProposal.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
	// ResponseSelectBook asks the client to pick a book on the proposer's profile first.
	ResponseSelectBook = "select_book"
)

// ParseDecision normalizes a response value. "accepted" and "rejected" are accepted too.
func ParseDecision(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept", "accepted":
		return DecisionAccept, nil
	case "reject", "rejected":
		return DecisionReject, nil
	default:
		return "", validation(msgInvalidDecision)
	}
}

// RespondRequest is the recipient's answer to a proposal message.
type RespondRequest struct {
	MessageID         string
	Decision          string
	SelectedBookID    string
	SelectedBookTitle string
}

// RespondResult reports the outcome of RespondToProposal.
type RespondResult struct {
	Response          string `json:"response"`
	RedirectToProfile string `json:"redirect_to_profile,omitempty"`
	EmpruntID         string `json:"emprunt_id,omitempty"`
}

// RespondToProposal moves the proposal behind messageID out of pending.
// On accept it creates the real loan, closes every other pending proposal
// between the pair and notifies both sides; on reject it notifies the proposer.
// All writes share one transaction.
func (a *App) RespondToProposal(ctx context.Context, responder domain.User, req RespondRequest) (RespondResult, error) {
	decision, err := ParseDecision(req.Decision)
	if err != nil {
		return RespondResult{}, err
	}
	now := a.now()
	var (
		result   RespondResult
		resolved []domain.Proposal
		loan     domain.Emprunt
	)
	err = a.store.WithTx(ctx, func(tx store.Store) error {
		resolved = nil
		loan = domain.Emprunt{}

		msg, ok, err := tx.GetMessage(ctx, strings.TrimSpace(req.MessageID))
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		if !ok {
			return notFound(msgMessageNotFound)
		}
		if msg.ProposalID == "" {
			return invalidState(msgNotAProposal)
		}
		thread, ok, err := tx.GetEmprunt(ctx, msg.EmpruntID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		if !ok {
			return notFound(msgEmpruntNotFound)
		}
		if !thread.Involves(responder.ID) {
			return forbidden(msgNotParticipant)
		}

		current, ok, err := tx.GetProposal(ctx, msg.ProposalID)
		if err != nil {
			return fmt.Errorf("load proposal: %w", err)
		}
		if !ok {
			return invalidState(msgNotAProposal)
		}
		if current.RecipientID != responder.ID {
			return forbidden(msgNotRecipient)
		}
		// Pair lock first, then the row lock; every writer takes them in this order.
		if err := tx.LockKeys(ctx, userLockKey(current.ProposerID), userLockKey(current.RecipientID)); err != nil {
			return fmt.Errorf("lock pair: %w", err)
		}
		proposal, ok, err := tx.LockProposal(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("lock proposal: %w", err)
		}
		if !ok {
			return invalidState(msgNotAProposal)
		}
		if !proposal.Pending() {
			return conflict(msgAlreadyProcessed)
		}

		system, err := systemActor(ctx, tx)
		if err != nil {
			return err
		}
		sentinel, err := sentinelBook(ctx, tx)
		if err != nil {
			return err
		}
		proposer, ok, err := tx.GetUserByID(ctx, proposal.ProposerID)
		if err != nil {
			return fmt.Errorf("load proposer: %w", err)
		}
		if !ok {
			return notFound(msgUserNotFound)
		}
		fresh, ok, err := tx.GetUserByID(ctx, responder.ID)
		if err != nil {
			return fmt.Errorf("load responder: %w", err)
		}
		if !ok {
			return notFound(msgUserNotFound)
		}

		o := outcome{proposal: proposal, proposer: proposer, responder: fresh, at: now}
		if decision == DecisionReject {
			next, err := transition(ctx, tx, proposal, domain.ProposalRejected, fresh.ID, now)
			if err != nil {
				return err
			}
			resolved = append(resolved, next)
			o.proposal = next
			o.status = domain.ProposalRejected
			result = RespondResult{Response: DecisionReject}
			return writeNotifications(ctx, tx, system.ID, sentinel.ID, composeOutcome(o), now)
		}

		if err := checkQuota(ctx, tx, fresh, system.ID, msgQuotaExceeded); err != nil {
			return err
		}
		if err := checkQuota(ctx, tx, proposer, system.ID, msgCounterpartQuota); err != nil {
			return err
		}

		sel := bookSelection{personalBookID: req.SelectedBookID, title: req.SelectedBookTitle}
		if proposal.Kind == domain.KindBookProposal && sel.empty() {
			result = RespondResult{Response: ResponseSelectBook, RedirectToProfile: proposer.ID}
			return nil
		}
		books, err := resolveExchangeBooks(ctx, tx, proposal, sel, proposer.ID, fresh.ID, sentinel)
		if err != nil {
			return err
		}
		loan, err = materializeExchange(ctx, tx, proposer.ID, fresh.ID, books.loan.ID, now)
		if err != nil {
			return err
		}

		next, err := transition(ctx, tx, proposal, domain.ProposalAccepted, fresh.ID, now)
		if err != nil {
			return err
		}
		resolved = append(resolved, next)
		siblings, err := tx.ListPendingProposalsBetween(ctx, proposer.ID, fresh.ID)
		if err != nil {
			return fmt.Errorf("list sibling proposals: %w", err)
		}
		for _, sibling := range siblings {
			if sibling.ID == proposal.ID {
				continue
			}
			closed, err := transition(ctx, tx, sibling, domain.ProposalAccepted, fresh.ID, now)
			if err != nil {
				return err
			}
			resolved = append(resolved, closed)
		}

		o.proposal = next
		o.status = domain.ProposalAccepted
		o.received = books.received
		o.given = books.given
		o.loanID = loan.ID
		result = RespondResult{Response: DecisionAccept, EmpruntID: loan.ID}
		return writeNotifications(ctx, tx, system.ID, sentinel.ID, composeOutcome(o), now)
	})
	if err != nil {
		return RespondResult{}, err
	}
	if result.Response == ResponseSelectBook {
		return result, nil
	}

	logger := util.LoggerFromContext(ctx)
	events := make([]queue.Event, 0, len(resolved)+1)
	for _, p := range resolved {
		logger.Info("proposal_responded",
			"proposal_id", p.ID,
			"status", string(p.Status),
			"responder_id", responder.ID,
			"emprunt_id", loan.ID,
		)
		evtType := queue.EventProposalAccepted
		if p.Status == domain.ProposalRejected {
			evtType = queue.EventProposalRejected
		}
		events = append(events, queue.Event{
			Type:          evtType,
			ProposalID:    p.ID,
			EmpruntID:     loan.ID,
			ActorID:       responder.ID,
			CounterpartID: p.ProposerID,
		})
	}
	if loan.ID != "" {
		events = append(events, queue.Event{
			Type:          queue.EventLoanCreated,
			EmpruntID:     loan.ID,
			ActorID:       responder.ID,
			CounterpartID: loan.UserID1,
			BookID:        loan.BookID,
		})
	}
	a.publish(ctx, events...)
	return result, nil
}

// transition resolves p and writes it with a compare-and-swap on its version.
func transition(ctx context.Context, st store.Store, p domain.Proposal, status domain.ProposalStatus, responderID string, at time.Time) (domain.Proposal, error) {
	next, err := p.Resolve(status, responderID, at)
	if errors.Is(err, domain.ErrProposalResolved) {
		return domain.Proposal{}, conflict(msgAlreadyProcessed)
	}
	if err != nil {
		return domain.Proposal{}, err
	}
	if err := st.UpdateProposal(ctx, next, p.Version); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return domain.Proposal{}, conflict(msgAlreadyProcessed)
		}
		return domain.Proposal{}, fmt.Errorf("update proposal: %w", err)
	}
	return next, nil
}

// writeNotifications appends each notification to its recipient's Assistant thread.
func writeNotifications(ctx context.Context, st store.Store, systemID, sentinelID string, notes []notification, now time.Time) error {
	for _, n := range notes {
		threadID, err := resolveOrCreateConversation(ctx, st, systemID, n.recipientID, sentinelID, now)
		if err != nil {
			return err
		}
		if err := st.AppendMessage(ctx, domain.Message{
			ID:        util.NewID(),
			EmpruntID: threadID,
			SenderID:  systemID,
			Text:      n.text,
			Metadata:  n.meta,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append notification: %w", err)
		}
	}
	return nil
}

func userLockKey(userID string) string {
	return "user:" + userID
}
