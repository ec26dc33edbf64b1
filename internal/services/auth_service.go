package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/unclesp1d3r/cipherswarm/internal/core"
	"github.com/unclesp1d3r/cipherswarm/internal/models"
	"github.com/unclesp1d3r/cipherswarm/internal/repository"
	"github.com/unclesp1d3r/cipherswarm/pkg/debug"
)

const jwtTTL = 12 * time.Hour

// AuthService authenticates operators: password login issuing web JWTs, and
// long-lived control tokens for automation.
type AuthService struct {
	userRepo  *repository.UserRepository
	jwtSecret []byte
}

// NewAuthService creates a new auth service.
func NewAuthService(userRepo *repository.UserRepository, jwtSecret string) *AuthService {
	return &AuthService{
		userRepo:  userRepo,
		jwtSecret: []byte(jwtSecret),
	}
}

// CreateUser registers an operator account.
func (s *AuthService) CreateUser(ctx context.Context, username, password, role string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, core.Malformed("username and password are required")
	}
	switch role {
	case models.RoleAdmin, models.RoleOperator:
	case "":
		role = models.RoleOperator
	default:
		return nil, core.Malformed(fmt.Sprintf("unknown role %q", role))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{Username: username, PasswordHash: string(hash), Role: role}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	debug.Log("User created", map[string]interface{}{"user_id": user.ID, "role": user.Role})
	return user, nil
}

// Login checks credentials and issues a signed web JWT. Wrong username and
// wrong password are indistinguishable.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.userRepo.GetByUsername(ctx, username)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return "", nil, core.Unauthorized("invalid credentials")
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, core.Unauthorized("invalid credentials")
	}
	token, err := s.IssueJWT(user, time.Now().UTC())
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueJWT signs a web token for the user.
func (s *AuthService) IssueJWT(user *models.User, now time.Time) (string, error) {
	claims := jwt.StandardClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(jwtTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateJWT checks a web token and returns the user ID it names.
func (s *AuthService) ValidateJWT(tokenString string) (int64, error) {
	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, core.Unauthorized("invalid token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, core.Unauthorized("invalid token")
	}
	return userID, nil
}

// IssueControlToken mints a control-surface bearer token for the user,
// replacing any previous one.
func (s *AuthService) IssueControlToken(ctx context.Context, userID int64) (string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	token, digest, err := GenerateControlToken(user.ID)
	if err != nil {
		return "", err
	}
	if err := s.userRepo.SetControlTokenDigest(ctx, user.ID, digest); err != nil {
		return "", err
	}
	return token, nil
}

// AuthenticateControl resolves a control bearer token to its user.
func (s *AuthService) AuthenticateControl(ctx context.Context, token string) (*models.User, error) {
	userID, secret, err := ParseControlToken(token)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if core.IsKind(err, core.KindNotFound) {
			return nil, core.Unauthorized("invalid token")
		}
		return nil, err
	}
	if user.ControlTokenDigest == "" || !VerifySecret(secret, user.ControlTokenDigest) {
		return nil, core.Unauthorized("invalid token")
	}
	return user, nil
}

// GetUser returns one user.
func (s *AuthService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}
