// Package auth registers users and issues stateless bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"carcare/internal/config"
	"carcare/internal/models"
	"carcare/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid token")

	errTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
)

// bcrypt refuses longer passwords.
const maxPasswordBytes = 72

// ValidationError describes a signup field the caller has to fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// SignupRequest is the signup payload of the mobile client.
type SignupRequest struct {
	Email           string                  `json:"email"`
	Password        string                  `json:"password"`
	Name            string                  `json:"name"`
	Phone           string                  `json:"phone"`
	Role            models.UserRole         `json:"role"`
	MechanicProfile *models.MechanicProfile `json:"mechanicProfile"`
}

// Service issues and validates HS256 tokens for users kept in a UserStore.
type Service struct {
	users      storage.UserStore
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	headerName string
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewService constructs an auth service from the auth config section.
func NewService(users storage.UserStore, cfg config.AuthConfig, logger *zap.SugaredLogger) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ttl := time.Duration(cfg.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	return &Service{
		users:      users,
		secret:     []byte(cfg.JWTSecret),
		tokenTTL:   ttl,
		bcryptCost: cost,
		headerName: "Authorization",
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Signup validates req, stores the new user and returns it with a token.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*models.User, string, error) {
	email := normalizeEmail(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, "", &ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	if len(req.Password) < 6 {
		return nil, "", &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	if len(req.Password) > maxPasswordBytes {
		return nil, "", &ValidationError{Field: "password", Reason: "must be at most 72 bytes"}
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "", &ValidationError{Field: "name", Reason: "is required"}
	}
	role := req.Role
	if role == "" {
		role = models.RoleCarOwner
	}
	if !role.Valid() {
		return nil, "", &ValidationError{Field: "role", Reason: "must be carOwner or mechanic"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
	}
	if role == models.RoleMechanic {
		profile := req.MechanicProfile
		if profile == nil {
			profile = &models.MechanicProfile{}
		}
		if profile.Expertise == nil {
			profile.Expertise = []string{}
		}
		// ratings only come from reviews
		profile.Rating = 0
		user.Mechanic = profile
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.logger.Infow("user signed up", "user_id", user.ID, "role", user.Role)
	return user, token, nil
}

// Login checks the password and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken signs a token for userID valid for the configured TTL.
func (s *Service) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		Issuer:    "carcare",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature and expiry and returns the user id.
func (s *Service) ValidateToken(authToken string) (string, error) {
	if authToken == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(authToken, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("carcare"),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errTokenExpired
		}
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
