package identity

import (
	"net/mail"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is the region hint used when a phone number is not
// already in international form.
var DefaultPhoneRegion = "US"

// NormalizeUsername trims and lower-cases a username. Usernames match
// case-insensitively, so the normalized form is the stored form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeEmail trims and lower-cases an email address. Email comparison is
// case-insensitive, so the normalized form is the stored form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone parses a phone number and returns it in E.164 form.
func NormalizePhone(phone string) (string, error) {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return "", nil
	}

	parsed, err := phonenumbers.Parse(trimmed, DefaultPhoneRegion)
	if err != nil {
		return "", goerrors.Wrap(err, ErrValidationFailed.Category, "invalid phone number").
			WithTextCode(ErrValidationFailed.TextCode)
	}

	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrValidationFailed.Clone().
			WithMetadata(map[string]any{"field": "phone"})
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// RegistrationInput is the raw material for a new account.
type RegistrationInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Password  string `json:"password"`
}

// Validate checks field shape. Password strength is enforced separately by
// the configured PasswordPolicy.
func (r RegistrationInput) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Length(0, 64)),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 128)),
		validation.Field(&r.LastName, validation.Length(0, 128)),
		validation.Field(&r.Password, validation.Required),
	)
	if err == nil {
		return nil
	}

	return wrapValidationErrors(err)
}

// wrapValidationErrors folds ozzo field errors into the validation error so
// callers get per-field detail in metadata.
func wrapValidationErrors(err error) error {
	meta := map[string]any{}
	if fieldErrs, ok := err.(validation.Errors); ok {
		for field, fieldErr := range fieldErrs {
			if fieldErr != nil {
				meta[field] = fieldErr.Error()
			}
		}
	} else {
		meta["error"] = err.Error()
	}

	return goerrors.Wrap(err, ErrValidationFailed.Category, ErrValidationFailed.Message).
		WithTextCode(ErrValidationFailed.TextCode).
		WithMetadata(meta)
}

// usernameFromEmail derives a fallback username from the email local part.
func usernameFromEmail(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

func isEmailAddress(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
