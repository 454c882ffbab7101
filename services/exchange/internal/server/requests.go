package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type proposalRequest struct {
	TargetUserID string `json:"target_user_id" validate:"required"`
	BookID       string `json:"book_id"`
	BookTitle    string `json:"book_title" validate:"max=300"`
}

type bookProposalRequest struct {
	TargetUserID string `json:"target_user_id" validate:"required"`
	BookID       string `json:"book_id"`
	BookTitle    string `json:"book_title" validate:"max=300"`
}

type respondRequest struct {
	Response          string `json:"response" validate:"required"`
	SelectedBookID    string `json:"selected_book_id"`
	SelectedBookTitle string `json:"selected_book_title" validate:"max=300"`
}

type createLoanRequest struct {
	UserID1 string `json:"id_user1" validate:"required"`
	UserID2 string `json:"id_user2" validate:"required"`
	BookID  string `json:"id_livre" validate:"required"`
}

type sendMessageRequest struct {
	EmpruntID string `json:"id_emprunt" validate:"required"`
	Text      string `json:"message_text" validate:"required,max=5000"`
}

type upgradeRequest struct {
	PaymentToken string `json:"payment_token" validate:"required"`
}

// decodeRequest reads a JSON body into dst and validates it, writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}
