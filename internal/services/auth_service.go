package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/config"
	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

const (
	maxFailedLogins = 5
	lockDuration    = 15 * time.Minute
	tokenLifetime   = 24 * time.Hour
)

// AuthService authenticates principals against the Identity Authority and
// issues session tokens carrying the local authorization record's role. The
// authority's role hint plays no part here.
type AuthService struct {
	db        *gorm.DB
	authority identity.Authority
	cfg       config.Config
}

// Claims are the JWT claims carried by a session token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService returns an AuthService using the provided DB and authority.
func NewAuthService(db *gorm.DB, authority identity.Authority, cfg config.Config) *AuthService {
	return &AuthService{db: db, authority: authority, cfg: cfg}
}

// Login verifies credentials and returns a signed session token. Failed
// attempts are counted on the local record; five failures lock the account
// for fifteen minutes.
func (s *AuthService) Login(email, password string) (string, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		return "", ErrAccountLocked
	}
	if user.Status != models.StatusActive {
		return "", ErrAccountInactive
	}

	if _, err := s.authority.Verify(email, password); err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			s.recordFailure(&user)
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	now := time.Now()
	s.db.Model(&user).Updates(map[string]interface{}{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login":            now,
	})

	return s.issueToken(&user)
}

// GetUserByUUID loads the local account record for a subject id.
func (s *AuthService) GetUserByUUID(uid string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("uuid = ?", uid).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ParseToken validates a session token and returns its claims.
func (s *AuthService) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *AuthService) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *AuthService) recordFailure(user *models.User) {
	attempts := user.FailedLoginAttempts + 1
	updates := map[string]interface{}{"failed_login_attempts": attempts}
	if attempts >= maxFailedLogins {
		lockedUntil := time.Now().Add(lockDuration)
		updates["locked_until"] = lockedUntil
	}
	s.db.Model(user).Updates(updates)
}
