package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleAdmin:
		return Role(s), nil
	}
	return "", ErrUnknownRole
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountHasNoPassword = errors.New("account has no password")
	ErrUnknownRole          = errors.New("unknown role")
)

// Account is the persisted user record. PasswordHash is nil for accounts
// provisioned by an external identity provider.
type Account struct {
	ID               uuid.UUID
	FullName         string
	Email            string
	PasswordHash     *string
	Role             Role
	RefreshTokenHash *string
	LastLogin        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Profile is the projection that may leave the service.
type Profile struct {
	ID        uuid.UUID  `json:"id"`
	FullName  string     `json:"fullName"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (a Account) Profile() Profile {
	return Profile{
		ID:        a.ID,
		FullName:  a.FullName,
		Email:     a.Email,
		Role:      a.Role,
		LastLogin: a.LastLogin,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// Identity is the authenticated caller, handed explicitly to every operation
// that makes an ownership or role decision.
type Identity struct {
	AccountID uuid.UUID
	Email     string
	FullName  string
	Role      Role
}

func (a Account) Identity() Identity {
	return Identity{AccountID: a.ID, Email: a.Email, FullName: a.FullName, Role: a.Role}
}

func (i Identity) IsAdmin() bool { return i.Role.IsAdmin() }

// CanAccess reports whether the caller may act on a resource owned by owner.
func (i Identity) CanAccess(owner uuid.UUID) bool {
	return i.IsAdmin() || i.AccountID == owner
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

const (
	MinNameLen     = 2
	MaxNameLen     = 50
	MinPasswordLen = 8
	// bcrypt ignores everything past 72 bytes.
	MaxPasswordLen = 72
)

const passwordSpecial = "!@#$%^&*"

// PasswordViolation describes why a password fails the policy. Empty means ok.
func PasswordViolation(pw string) string {
	if utf8.RuneCountInString(pw) < MinPasswordLen {
		return "Password must be at least 8 characters long"
	}
	if len(pw) > MaxPasswordLen {
		return "Password cannot exceed 72 bytes"
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecial, r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return "Password must contain at least one lowercase letter, one uppercase letter, one number, and one special character (!@#$%^&*)"
	}
	return ""
}

func NameViolation(name string) string {
	n := utf8.RuneCountInString(name)
	switch {
	case n < MinNameLen:
		return "Full name must be at least 2 characters long"
	case n > MaxNameLen:
		return "Full name cannot exceed 50 characters"
	}
	return ""
}
