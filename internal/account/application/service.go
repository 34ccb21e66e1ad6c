package application

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/password"
	"github.com/dmehra2102/sweet-shop/pkg/token"
)

type Service struct {
	log     *slog.Logger
	repo    AccountRepository
	hasher  PasswordHasher
	access  TokenMaker
	refresh TokenMaker
	now     func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

func NewService(log *slog.Logger, repo AccountRepository, hasher PasswordHasher, access, refresh TokenMaker) *Service {
	return &Service{
		log:     log,
		repo:    repo,
		hasher:  hasher,
		access:  access,
		refresh: refresh,
		now:     time.Now,
	}
}

// Session is the pair of credentials handed to a client after sign-in.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Account          domain.Profile
}

type SignupInput struct {
	FullName string
	Email    string
	Password string
}

// Signup runs validate, normalize, hash, persist, then opens a session.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Session, error) {
	name := domain.NormalizeName(in.FullName)
	if msg := domain.NameViolation(name); msg != "" {
		return Session{}, apperr.FieldValidation("fullName", msg)
	}
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return Session{}, apperr.FieldValidation("email", "Email is required")
	}
	if msg := domain.PasswordViolation(in.Password); msg != "" {
		return Session{}, apperr.FieldValidation("password", msg)
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acc := domain.Account{
		ID:           uuid.New(),
		FullName:     name,
		Email:        email,
		PasswordHash: &hash,
		Role:         domain.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, acc); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return Session{}, apperr.Conflict("User with this email already exists").Wrap(err)
		}
		return Session{}, fmt.Errorf("create account: %w", err)
	}
	s.log.InfoContext(ctx, "account created", "account_id", acc.ID)

	sess, refreshHash, err := s.newSession(acc)
	if err != nil {
		return Session{}, err
	}
	if err := s.repo.SetRefreshTokenHash(ctx, acc.ID, &refreshHash); err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}
	return sess, nil
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// fail identically, and both spend one bcrypt comparison.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (domain.Account, error) {
	acc, err := s.repo.FindByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, domain.ErrAccountNotFound) {
		_ = s.hasher.Compare(ctx, s.fallbackHash(ctx), pw)
		return domain.Account{}, invalidCredentials()
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("find account: %w", err)
	}
	if acc.PasswordHash == nil {
		return domain.Account{}, apperr.Validation("This account was created with an external provider and has no password").
			WithCode("ACCOUNT_HAS_NO_PASSWORD").
			Wrap(domain.ErrAccountHasNoPassword)
	}
	if err := s.hasher.Compare(ctx, *acc.PasswordHash, pw); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return domain.Account{}, invalidCredentials()
		}
		return domain.Account{}, fmt.Errorf("compare password: %w", err)
	}
	return acc, nil
}

func (s *Service) Login(ctx context.Context, email, pw string) (Session, error) {
	acc, err := s.Authenticate(ctx, email, pw)
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	acc.LastLogin = &now
	sess, refreshHash, err := s.newSession(acc)
	if err != nil {
		return Session{}, err
	}
	if err := s.repo.RecordLogin(ctx, acc.ID, now, refreshHash); err != nil {
		return Session{}, fmt.Errorf("record login: %w", err)
	}
	s.log.InfoContext(ctx, "account logged in", "account_id", acc.ID)
	return sess, nil
}

// Validate resolves an access token to the current identity. The account is
// reloaded so role changes and deletions apply immediately.
func (s *Service) Validate(ctx context.Context, raw string) (domain.Identity, error) {
	claims, err := s.access.Verify(raw)
	if err != nil {
		return domain.Identity{}, tokenError(err, "Access")
	}
	acc, err := s.accountFromClaims(ctx, claims)
	if err != nil {
		return domain.Identity{}, err
	}
	return acc.Identity(), nil
}

// Refresh issues a new access token when raw is the refresh token currently
// stored for its account.
func (s *Service) Refresh(ctx context.Context, raw string) (Session, error) {
	if raw == "" {
		return Session{}, apperr.Unauthenticated("Refresh token not found").WithCode("TOKEN_MISSING")
	}
	claims, err := s.refresh.Verify(raw)
	if err != nil {
		return Session{}, tokenError(err, "Refresh")
	}
	acc, err := s.accountFromClaims(ctx, claims)
	if err != nil {
		return Session{}, err
	}
	if acc.RefreshTokenHash == nil || subtle.ConstantTimeCompare([]byte(*acc.RefreshTokenHash), []byte(hashToken(raw))) != 1 {
		return Session{}, apperr.Unauthenticated("Invalid refresh token").WithCode("TOKEN_REVOKED")
	}

	accessRaw, accessClaims, err := s.access.Issue(acc.ID.String(), claimsFor(acc))
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:      accessRaw,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     raw,
		RefreshExpiresAt: claims.ExpiresAt.Time,
		Account:          acc.Profile(),
	}, nil
}

// Logout drops the stored refresh token. Repeated calls succeed.
func (s *Service) Logout(ctx context.Context, id domain.Identity) error {
	err := s.repo.SetRefreshTokenHash(ctx, id.AccountID, nil)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.log.InfoContext(ctx, "account logged out", "account_id", id.AccountID)
	return nil
}

// Revoke clears the stored refresh token when raw is the one on record. It
// reports false for tokens that are expired, forged or already replaced.
func (s *Service) Revoke(ctx context.Context, raw string) (bool, error) {
	claims, err := s.refresh.Verify(raw)
	if err != nil {
		return false, nil
	}
	acc, err := s.accountFromClaims(ctx, claims)
	if err != nil {
		if apperr.IsKind(err, apperr.KindAuthentication) {
			return false, nil
		}
		return false, err
	}
	if acc.RefreshTokenHash == nil || subtle.ConstantTimeCompare([]byte(*acc.RefreshTokenHash), []byte(hashToken(raw))) != 1 {
		return false, nil
	}
	if err := s.Logout(ctx, acc.Identity()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) Profile(ctx context.Context, id domain.Identity) (domain.Profile, error) {
	acc, err := s.repo.FindByID(ctx, id.AccountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Profile{}, apperr.NotFound("User not found").Wrap(err)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("find account: %w", err)
	}
	return acc.Profile(), nil
}

// Promote assigns role to the account with email. It is the only path that
// changes a role.
func (s *Service) Promote(ctx context.Context, email string, role domain.Role) (domain.Profile, error) {
	acc, err := s.repo.SetRole(ctx, domain.NormalizeEmail(email), role)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Profile{}, apperr.NotFound("User not found").Wrap(err)
	}
	if err != nil {
		return domain.Profile{}, fmt.Errorf("set role: %w", err)
	}
	s.log.InfoContext(ctx, "account role changed", "account_id", acc.ID, "role", role)
	return acc.Profile(), nil
}

func (s *Service) newSession(acc domain.Account) (Session, string, error) {
	claims := claimsFor(acc)
	accessRaw, accessClaims, err := s.access.Issue(acc.ID.String(), claims)
	if err != nil {
		return Session{}, "", err
	}
	refreshRaw, refreshClaims, err := s.refresh.Issue(acc.ID.String(), token.Claims{})
	if err != nil {
		return Session{}, "", err
	}
	return Session{
		AccessToken:      accessRaw,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshToken:     refreshRaw,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		Account:          acc.Profile(),
	}, hashToken(refreshRaw), nil
}

func (s *Service) accountFromClaims(ctx context.Context, claims *token.Claims) (domain.Account, error) {
	id, err := uuid.Parse(claims.AccountID())
	if err != nil {
		return domain.Account{}, apperr.Unauthenticated("Invalid token").WithCode("TOKEN_INVALID").Wrap(err)
	}
	acc, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, apperr.Unauthenticated("User not found").WithCode("ACCOUNT_GONE").Wrap(err)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

// fallbackHash is compared against for unknown emails so they cost as much as
// a wrong password. It is built detached from the request and retried until
// one attempt succeeds.
func (s *Service) fallbackHash(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()
	if s.dummyHash != "" {
		return s.dummyHash
	}
	h, err := s.hasher.Hash(context.WithoutCancel(ctx), uuid.NewString())
	if err != nil {
		s.log.WarnContext(ctx, "fallback hash unavailable", "err", err)
		return ""
	}
	s.dummyHash = h
	return h
}

func claimsFor(acc domain.Account) token.Claims {
	return token.Claims{Email: acc.Email, FullName: acc.FullName, Role: string(acc.Role)}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func invalidCredentials() error {
	return apperr.Unauthenticated("Invalid email or password").
		WithCode("INVALID_CREDENTIALS").
		Wrap(domain.ErrInvalidCredentials)
}

func tokenError(err error, kind string) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return apperr.Unauthenticated(kind + " token expired").WithCode("TOKEN_EXPIRED").Wrap(err)
	case errors.Is(err, token.ErrInvalidSignature):
		return apperr.Unauthenticated("Invalid "+strings.ToLower(kind)+" token").WithCode("TOKEN_INVALID_SIGNATURE").Wrap(err)
	default:
		return apperr.Unauthenticated("Invalid "+strings.ToLower(kind)+" token").WithCode("TOKEN_INVALID").Wrap(err)
	}
}
