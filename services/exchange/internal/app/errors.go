package app

import "errors"

// Error kinds. Every *Error unwraps to exactly one of them.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrValidation    = errors.New("validation failed")
	ErrInvalidState  = errors.New("invalid state")
)

// ErrNotBootstrapped means the Assistant account or the sentinel book is missing.
// Bootstrap creates both; requests never recreate them.
var ErrNotBootstrapped = errors.New("exchange data not bootstrapped")

// Error carries a kind, a user-facing message and an optional cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func notFound(msg string) *Error      { return &Error{Kind: ErrNotFound, Message: msg} }
func forbidden(msg string) *Error     { return &Error{Kind: ErrForbidden, Message: msg} }
func conflict(msg string) *Error      { return &Error{Kind: ErrConflict, Message: msg} }
func quotaExceeded(msg string) *Error { return &Error{Kind: ErrQuotaExceeded, Message: msg} }
func validation(msg string) *Error    { return &Error{Kind: ErrValidation, Message: msg} }
func invalidState(msg string) *Error  { return &Error{Kind: ErrInvalidState, Message: msg} }

// UserMessage returns the message to show the caller, or "" for internal errors.
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ""
}

const (
	msgUserNotFound         = "Utilisateur non trouvé"
	msgTargetNotFound       = "Utilisateur cible non trouvé"
	msgSelfProposal         = "Vous ne pouvez pas vous proposer un échange à vous-même"
	msgProposeToAssistant   = "Impossible de proposer un échange à l'Assistant"
	msgMessageNotFound      = "Message non trouvé"
	msgNotAProposal         = "Ce message n'est pas une proposition d'échange"
	msgNotParticipant       = "Vous n'êtes pas autorisé à accéder à cette conversation"
	msgNotRecipient         = "Seul le destinataire peut répondre à cette proposition"
	msgAlreadyProcessed     = "Cette proposition a déjà été traitée"
	msgInvalidDecision      = "Réponse invalide : utilisez 'accept' ou 'reject'"
	msgQuotaExceeded        = "Limite atteinte : les comptes gratuits sont limités à un échange actif. Passez Premium pour des échanges illimités."
	msgCounterpartQuota     = "L'autre utilisateur a atteint sa limite d'échanges gratuits"
	msgBookNotFound         = "Livre non trouvé"
	msgPersonalBookNotFound = "Livre de la bibliothèque personnelle non trouvé"
	msgPersonalBookForeign  = "Ce livre n'appartient à aucun des participants de l'échange"
	msgBookTitleRequired    = "Le titre du livre est requis"
	msgSelectionSameSide    = "Le livre choisi doit appartenir à l'autre participant de l'échange"
	msgEmpruntNotFound      = "Emprunt non trouvé"
	msgEmptyMessage         = "Le message ne peut pas être vide"
	msgOwnMessageRead       = "Vous ne pouvez pas marquer votre propre message comme lu"
	msgSelfLoan             = "Un utilisateur ne peut pas emprunter à lui-même"
	msgLoanUsersNotFound    = "Un des utilisateurs n'existe pas"
	msgLoanNotParticipant   = "Vous devez être l'un des participants de l'emprunt"
	msgLoanListForbidden    = "Vous ne pouvez consulter que vos propres emprunts"
	msgInvalidPaymentToken  = "Jeton de paiement invalide ou expiré"
	msgForeignPaymentToken  = "Ce jeton de paiement appartient à un autre utilisateur"
	msgAlreadyPremium       = "Votre compte est déjà Premium"
)
