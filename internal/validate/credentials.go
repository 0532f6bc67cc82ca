// Package validate normalizes and validates credential input for the login,
// register, profile update and account delete operations.
package validate

import (
	"context"
	"errors"
	"html"
	"sort"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/store"
	"github.com/jjudge-oj/authserver/types"
)

const (
	UsernameMinLength = 5
	UsernameMaxLength = 20

	PasswordMinLength = 8
	// bcrypt ignores input past 72 bytes.
	PasswordMaxBytes = 72
)

// MsgUsernameTaken is the violation reported for a username collision.
const MsgUsernameTaken = "username already registered"

// UserLookup is the read side of the user store needed for uniqueness checks.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (types.User, error)
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterInput struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpdateInput struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

type DeleteInput struct {
	Password string `json:"password"`
}

// Validator checks credential input. Uniqueness checks are advisory; the
// store's insert still enforces them.
type Validator struct {
	users UserLookup
}

func New(users UserLookup) *Validator {
	return &Validator{users: users}
}

// Login lowercases the username and requires both fields.
func (v *Validator) Login(in LoginInput) (LoginInput, error) {
	in.Username = normalizeUsername(in.Username)

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, is.Alphanumeric),
		validation.Field(&in.Password, validation.Required),
	)
	return in, toAuthError(err)
}

// Register validates a new account. The returned Name is escaped.
func (v *Validator) Register(ctx context.Context, in RegisterInput) (RegisterInput, error) {
	in.Username = normalizeUsername(in.Username)
	in.Name = sanitizeName(in.Name)

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, v.usernameRules(ctx, "")...),
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Password, validation.By(strongPassword)),
		validation.Field(&in.Role, validation.Required, validation.In(roleNames()...)),
	)
	if err != nil {
		return in, toAuthError(err)
	}
	in.Name = html.EscapeString(in.Name)
	return in, nil
}

// Update validates a profile change by selfID. Keeping one's own username is
// not a collision.
func (v *Validator) Update(ctx context.Context, selfID string, in UpdateInput) (UpdateInput, error) {
	in.Username = normalizeUsername(in.Username)
	in.Name = sanitizeName(in.Name)

	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, v.usernameRules(ctx, selfID)...),
		validation.Field(&in.Name, validation.Required),
	)
	if err != nil {
		return in, toAuthError(err)
	}
	in.Name = html.EscapeString(in.Name)
	return in, nil
}

// Delete only checks that a password was supplied.
func (v *Validator) Delete(in DeleteInput) (DeleteInput, error) {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Password, validation.Required),
	)
	return in, toAuthError(err)
}

func (v *Validator) usernameRules(ctx context.Context, selfID string) []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(UsernameMinLength, UsernameMaxLength),
		is.Alphanumeric,
		validation.By(v.uniqueUsername(ctx, selfID)),
	}
}

func (v *Validator) uniqueUsername(ctx context.Context, selfID string) validation.RuleFunc {
	return func(value interface{}) error {
		username, _ := value.(string)
		existing, err := v.users.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return validation.NewInternalError(err)
		}
		if selfID != "" && existing.ID == selfID {
			return nil
		}
		return errors.New(MsgUsernameTaken)
	}
}

// strongPassword requires a lowercase letter, an uppercase letter and a digit.
// Symbols are optional.
func strongPassword(value interface{}) error {
	password, _ := value.(string)
	if password == "" {
		return errors.New("cannot be blank")
	}
	if len([]rune(password)) < PasswordMinLength {
		return errors.New("must be at least 8 characters")
	}
	if len(password) > PasswordMaxBytes {
		return errors.New("must be at most 72 bytes")
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !lower || !upper || !digit {
		return errors.New("must contain a lowercase letter, an uppercase letter and a number")
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// sanitizeName drops control characters and surrounding whitespace. Markup is
// escaped after validation.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}

func roleNames() []interface{} {
	names := make([]interface{}, 0, len(types.Roles))
	for _, role := range types.Roles {
		names = append(names, string(role))
	}
	return names
}

// toAuthError converts ozzo errors into the auth taxonomy. Lookup failures
// surface as unexpected, never as violations.
func toAuthError(err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return auth.Unexpected(internal.InternalError())
	}

	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return auth.Unexpected(err)
	}

	violations := make([]auth.Violation, 0, len(fieldErrs))
	for field, fieldErr := range fieldErrs {
		violations = append(violations, auth.Violation{Field: field, Message: fieldErr.Error()})
	}
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Field < violations[j].Field
	})
	return auth.ValidationFailed(violations)
}
