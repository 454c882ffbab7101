package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"livre2main/internal/util"
	"livre2main/pkg/domain"
	"livre2main/pkg/store"
)

// materializeExchange inserts the real loan between proposer and responder.
// Every accepted exchange gets its own record; earlier loans between the pair are kept.
func materializeExchange(ctx context.Context, st store.Store, proposerID, responderID, bookID string, now time.Time) (domain.Emprunt, error) {
	loan := domain.Emprunt{
		ID:        util.NewID(),
		UserID1:   proposerID,
		UserID2:   responderID,
		BookID:    bookID,
		CreatedAt: now,
	}
	if err := st.CreateEmprunt(ctx, loan); err != nil {
		return domain.Emprunt{}, fmt.Errorf("create loan: %w", err)
	}
	return loan, nil
}

// findOrCreateCatalogBook returns the catalog entry titled title, creating it from
// the given author when absent.
func findOrCreateCatalogBook(ctx context.Context, st store.Store, title, author string) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, validation(msgBookTitleRequired)
	}
	book, ok, err := st.FindBookByTitle(ctx, title)
	if err != nil {
		return domain.Book{}, fmt.Errorf("find book by title: %w", err)
	}
	if ok {
		return book, nil
	}
	if strings.TrimSpace(author) == "" {
		author = "Inconnu"
	}
	book = domain.Book{ID: util.NewID(), Title: title, Author: author}
	if err := st.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	return book, nil
}

// bookSelection is the responder's choice when accepting.
type bookSelection struct {
	personalBookID string
	title          string
}

func (s bookSelection) empty() bool {
	return strings.TrimSpace(s.personalBookID) == "" && strings.TrimSpace(s.title) == ""
}

// exchangeBooks is how an accepted exchange moves books between the pair,
// seen from the proposer.
type exchangeBooks struct {
	loan     domain.Book
	received string
	given    string
}

// resolveExchangeBooks works out which titles change hands and the catalog entry
// the loan references.
// A plain proposal offers the proposer's book; a book proposal asks for the
// recipient's. A selected personal-library entry is given by its owner and must
// come from the side opposite the proposal's book. A title-only selection is
// taken from that opposite side. The loan references the book the proposer gives,
// else the one they receive, else the sentinel.
func resolveExchangeBooks(ctx context.Context, st store.Store, p domain.Proposal, sel bookSelection, proposerID, responderID string, sentinel domain.Book) (exchangeBooks, error) {
	proposalTitle := strings.TrimSpace(p.BookTitle)
	proposalBookID := strings.TrimSpace(p.BookID)
	proposerGivesProposalBook := p.Kind == domain.KindProposal
	hasProposalBook := proposalTitle != "" || (proposerGivesProposalBook && proposalBookID != "")

	selTitle := strings.TrimSpace(sel.title)
	selAuthor := ""
	selFromProposer := !proposerGivesProposalBook
	if id := strings.TrimSpace(sel.personalBookID); id != "" {
		entry, ok, err := st.GetPersonalBook(ctx, id)
		if err != nil {
			return exchangeBooks{}, fmt.Errorf("load personal book: %w", err)
		}
		if !ok {
			return exchangeBooks{}, notFound(msgPersonalBookNotFound)
		}
		switch entry.UserID {
		case proposerID:
			selFromProposer = true
		case responderID:
			selFromProposer = false
		default:
			return exchangeBooks{}, forbidden(msgPersonalBookForeign)
		}
		if hasProposalBook && selFromProposer == proposerGivesProposalBook {
			return exchangeBooks{}, validation(msgSelectionSameSide)
		}
		if title := strings.TrimSpace(entry.Title); title != "" {
			selTitle = title
		}
		selAuthor = strings.Join(entry.Authors, ", ")
		if selTitle == "" {
			return exchangeBooks{}, validation(msgBookTitleRequired)
		}
	}

	var books exchangeBooks
	if proposerGivesProposalBook {
		books.given = proposalTitle
	} else {
		books.received = proposalTitle
	}
	if selTitle != "" {
		if selFromProposer {
			books.given = selTitle
		} else {
			books.received = selTitle
		}
	}

	var err error
	switch {
	case proposerGivesProposalBook && proposalBookID != "":
		book, ok, lookupErr := st.GetBook(ctx, proposalBookID)
		if lookupErr != nil {
			return exchangeBooks{}, fmt.Errorf("load proposal book: %w", lookupErr)
		}
		if !ok {
			return exchangeBooks{}, notFound(msgBookNotFound)
		}
		books.loan = book
		if books.given == "" {
			books.given = book.Title
		}
	case proposerGivesProposalBook && proposalTitle != "":
		books.loan, err = findOrCreateCatalogBook(ctx, st, proposalTitle, "")
	case selTitle != "":
		books.loan, err = findOrCreateCatalogBook(ctx, st, selTitle, selAuthor)
	default:
		books.loan = sentinel
	}
	if err != nil {
		return exchangeBooks{}, err
	}
	return books, nil
}
