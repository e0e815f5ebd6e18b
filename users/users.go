// Package users handles signup, sign-in and the user listing.
package users

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/auth"
	"github.com/yashasviy/ledger-api/models"
)

var (
	ErrInvalidSignup      = errors.New("username, password and a YYYY-MM-DD birthdate are required")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// DefaultStartingBalance is credited to every new account.
var DefaultStartingBalance = decimal.NewFromInt(100)

type Repository interface {
	// Create returns ErrUsernameTaken when the username is in use.
	Create(ctx context.Context, u models.User) error
	// FindByUsername returns ErrUserNotFound when nobody has the username.
	FindByUsername(ctx context.Context, username string) (models.User, error)
	List(ctx context.Context) ([]models.User, error)
}

type SignupRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Birthdate string `json:"birthdate"`
}

type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Service struct {
	repo            Repository
	issuer          *auth.Issuer
	startingBalance decimal.Decimal
	now             func() time.Time
}

func NewService(repo Repository, issuer *auth.Issuer, startingBalance decimal.Decimal) *Service {
	return &Service{repo: repo, issuer: issuer, startingBalance: startingBalance, now: time.Now}
}

// Signup creates the user and its account, returning the new id.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (string, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return "", ErrInvalidSignup
	}
	if _, err := time.Parse(time.DateOnly, req.Birthdate); err != nil {
		return "", ErrInvalidSignup
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u := models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		PasswordHash: hash,
		Birthdate:    req.Birthdate,
		Balance:      s.startingBalance,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return "", err
	}
	log.Printf("[Users] signed up %s (%s)", u.Username, u.ID)
	return u.ID, nil
}

func (s *Service) SignIn(ctx context.Context, req SigninRequest) (auth.Token, error) {
	u, err := s.repo.FindByUsername(ctx, req.Username)
	if errors.Is(err, ErrUserNotFound) {
		return auth.Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Token{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return auth.Token{}, ErrInvalidCredentials
	}
	return s.issuer.Issue(u.ID, u.Username)
}

func (s *Service) List(ctx context.Context) ([]models.User, error) {
	return s.repo.List(ctx)
}
