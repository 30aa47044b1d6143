package identity

import (
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// PasswordPolicy describes the strength rules applied on registration and
// password change.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPasswordPolicy mirrors the usual framework defaults: six
// characters minimum, one of each character class.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      6,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// Validate checks a candidate password against the policy. The password
// itself never appears in the returned error or its metadata.
func (p PasswordPolicy) Validate(password string) error {
	minLength := p.MinLength
	if minLength <= 0 {
		minLength = 1
	}

	rules := []validation.Rule{
		validation.Required,
		validation.Length(minLength, 0),
	}

	if p.RequireUpper {
		rules = append(rules, p.classRule(unicode.IsUpper, "must contain an upper case letter"))
	}
	if p.RequireLower {
		rules = append(rules, p.classRule(unicode.IsLower, "must contain a lower case letter"))
	}
	if p.RequireDigit {
		rules = append(rules, p.classRule(unicode.IsDigit, "must contain a digit"))
	}
	if p.RequireSpecial {
		rules = append(rules, p.classRule(func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}, "must contain a special character"))
	}

	if err := validation.Validate(password, rules...); err != nil {
		return goerrors.Wrap(err, ErrValidationFailed.Category, "password does not satisfy the password policy").
			WithTextCode(ErrValidationFailed.TextCode).
			WithMetadata(map[string]any{"reason": err.Error()})
	}

	return nil
}

func (p PasswordPolicy) classRule(class func(rune) bool, message string) validation.Rule {
	return validation.By(func(value any) error {
		password, _ := value.(string)
		if strings.IndexFunc(password, class) >= 0 {
			return nil
		}
		return goerrors.New(message, goerrors.CategoryValidation)
	})
}
