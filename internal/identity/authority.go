// Package identity abstracts the external Identity Authority. The authority
// authenticates principals and stores a provider-side role hint; the hint is
// descriptive only and is never trusted for authorization, which reads the
// local account record instead. Reconciliation between the two happens only
// in the bootstrap service.
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrEmailTaken        = errors.New("email already registered")
	ErrBadCredentials    = errors.New("invalid credentials")
)

// Principal is the authority's view of an account. UID is the stable subject
// id; it survives email reassignment and is the only key the rest of the
// system may store.
type Principal struct {
	UID         string
	Email       string
	DisplayName string
	RoleHint    string // descriptive, never authoritative
}

// Authority is the minimal surface the governance engine needs from an
// identity provider. Implementations fail independently of the local record
// store; callers own retry semantics.
type Authority interface {
	// LookupByEmail returns the principal registered under email, or
	// ErrPrincipalNotFound.
	LookupByEmail(email string) (*Principal, error)

	// Create registers a new principal. Returns ErrEmailTaken if the email
	// is already registered.
	Create(email, password, displayName, roleHint string) (*Principal, error)

	// Verify checks a password against the principal's credentials and
	// returns the principal on success, ErrBadCredentials otherwise.
	Verify(email, password string) (*Principal, error)

	// SetRoleHint updates the provider-side role hint. Best effort; the
	// hint is descriptive only.
	SetRoleHint(uid, roleHint string) error
}

// Account is the locally persisted principal record backing LocalAuthority.
type Account struct {
	ID           uint   `gorm:"primaryKey"`
	UID          string `gorm:"uniqueIndex"`
	Email        string `gorm:"uniqueIndex"`
	DisplayName  string
	PasswordHash string
	RoleHint     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LocalAuthority is a database-backed Authority used when no external
// provider is configured. It lives in its own table so the independent
// failure modes of provider and record store stay observable in tests.
type LocalAuthority struct {
	db *gorm.DB
}

// NewLocalAuthority returns a LocalAuthority using the provided DB.
func NewLocalAuthority(db *gorm.DB) *LocalAuthority {
	return &LocalAuthority{db: db}
}

func (a *LocalAuthority) LookupByEmail(email string) (*Principal, error) {
	var acc Account
	if err := a.db.Where("email = ?", email).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	return acc.principal(), nil
}

func (a *LocalAuthority) Create(email, password, displayName, roleHint string) (*Principal, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acc := Account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		RoleHint:     roleHint,
	}
	if err := a.db.Create(&acc).Error; err != nil {
		var existing Account
		if lookErr := a.db.Where("email = ?", email).First(&existing).Error; lookErr == nil {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return acc.principal(), nil
}

func (a *LocalAuthority) Verify(email, password string) (*Principal, error) {
	var acc Account
	if err := a.db.Where("email = ?", email).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}
	return acc.principal(), nil
}

func (a *LocalAuthority) SetRoleHint(uid, roleHint string) error {
	return a.db.Model(&Account{}).Where("uid = ?", uid).Update("role_hint", roleHint).Error
}

func (acc *Account) principal() *Principal {
	return &Principal{
		UID:         acc.UID,
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		RoleHint:    acc.RoleHint,
	}
}
