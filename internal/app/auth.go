package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"training-portal/internal/domain"
)

// AuthConfig configures token issuing.
type AuthConfig struct {
	Secret     string
	TokenTTL   time.Duration
	Issuer     string
	BcryptCost int
}

// Identity is the authenticated caller, passed explicitly to every service call.
type Identity struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthEvent is delivered to subscribers whenever a user's auth state changes.
type AuthEvent struct {
	UserID   string    `json:"userId"`
	SignedIn bool      `json:"signedIn"`
	At       time.Time `json:"at"`
}

// NewUser is the sign-up payload.
type NewUser struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Department string
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService signs users up, in and out and validates bearer tokens.
type AuthService struct {
	users   UserRepository
	revoked RevocationStore
	cfg     AuthConfig
	now     func() time.Time
	log     *zap.Logger

	mu       sync.Mutex
	watchers map[string]map[chan AuthEvent]struct{}
}

func NewAuthService(users UserRepository, revoked RevocationStore, cfg AuthConfig, log *zap.Logger) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "training-portal"
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		users:    users,
		revoked:  revoked,
		cfg:      cfg,
		now:      time.Now,
		log:      log,
		watchers: make(map[string]map[chan AuthEvent]struct{}),
	}
}

// SignUp creates a learner account.
func (s *AuthService) SignUp(ctx context.Context, nu NewUser) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrEmailExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cfg.BcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.CreateUser(ctx, domain.User{
		ID:               uuid.NewString(),
		FirstName:        strings.TrimSpace(nu.FirstName),
		LastName:         strings.TrimSpace(nu.LastName),
		Email:            email,
		Department:       strings.TrimSpace(nu.Department),
		Role:             domain.RoleLearner,
		PasswordHash:     hash,
		Progress:         map[string]domain.ModuleProgress{},
		CompletedQuizzes: []domain.ExamAttempt{},
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return domain.User{}, err
	}
	s.log.Info("user signed up", zap.String("user_id", user.ID), zap.String("department", user.Department))
	return user, nil
}

// SignIn verifies credentials and returns a signed token.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (string, Identity, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", Identity{}, domain.ErrInvalidCredentials
		}
		return "", Identity{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return "", Identity{}, domain.ErrInvalidCredentials
	}

	now := s.now()
	id := Identity{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.TokenID,
			Subject:   id.UserID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(id.ExpiresAt),
		},
	})
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", Identity{}, fmt.Errorf("sign token: %w", err)
	}

	s.notify(AuthEvent{UserID: user.ID, SignedIn: true, At: now})
	return signed, id, nil
}

// Authenticate validates a bearer token and returns its identity.
func (s *AuthService) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.ErrUnauthenticated
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || c.Subject == "" {
		return Identity{}, domain.ErrUnauthenticated
	}

	revoked, err := s.revoked.IsRevoked(ctx, c.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, domain.ErrUnauthenticated
	}

	id := Identity{UserID: c.Subject, Email: c.Email, Role: c.Role, TokenID: c.ID}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

// SignOut revokes the identity's token and notifies subscribers.
func (s *AuthService) SignOut(ctx context.Context, id Identity) error {
	ttl := id.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.revoked.Revoke(ctx, id.TokenID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.notify(AuthEvent{UserID: id.UserID, SignedIn: false, At: s.now()})
	return nil
}

// Subscribe delivers auth state changes for userID until cancel is called.
func (s *AuthService) Subscribe(userID string) (<-chan AuthEvent, func()) {
	ch := make(chan AuthEvent, 4)
	s.mu.Lock()
	set, ok := s.watchers[userID]
	if !ok {
		set = make(map[chan AuthEvent]struct{})
		s.watchers[userID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		set, ok := s.watchers[userID]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(s.watchers, userID)
		}
	}
	return ch, cancel
}

func (s *AuthService) notify(ev AuthEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Authorize checks the optional required role. Admins pass every role check.
func Authorize(id Identity, requiredRole string) error {
	if requiredRole == "" || id.Role == domain.RoleAdmin || id.Role == requiredRole {
		return nil
	}
	return domain.ErrForbidden
}
