// Package auth validates login, register, and admin credentials against the
// account store and produces role-tagged identities.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mhaas-dev/chatline/pkg/crypto"
	"github.com/mhaas-dev/chatline/pkg/datastore"
	"github.com/mhaas-dev/chatline/pkg/model"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDuplicateUser      = errors.New("auth: username already taken")
	ErrBanned             = errors.New("auth: user is banned")
)

// Mode selects which authentication flow to run.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
	ModeAdmin
)

func (m Mode) String() string {
	switch m {
	case ModeLogin:
		return "login"
	case ModeRegister:
		return "register"
	case ModeAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseMode converts a client's bootstrap reply to a Mode. Case-insensitive.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "login":
		return ModeLogin, true
	case "register":
		return ModeRegister, true
	case "admin":
		return ModeAdmin, true
	default:
		return 0, false
	}
}

// Gateway validates credentials against the external account store.
type Gateway struct {
	store datastore.DataProviderFactory
}

// NewGateway creates a credential gateway backed by the given store.
func NewGateway(store datastore.DataProviderFactory) *Gateway {
	return &Gateway{store: store}
}

// Authenticate runs a single request/response credential check and returns
// the authenticated identity. There are no retries; callers close the
// connection on failure.
//
// Besides the REGISTER insert there are no side effects.
func (g *Gateway) Authenticate(ctx context.Context, mode Mode, username, password string) (model.Identity, error) {
	if err := model.ValidateUsername(username); err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	switch mode {
	case ModeRegister:
		return g.register(ctx, username, password)
	case ModeLogin:
		return g.login(username, password)
	case ModeAdmin:
		return g.admin(username, password)
	default:
		return model.Identity{}, fmt.Errorf("auth: unknown mode %d", mode)
	}
}

func (g *Gateway) register(ctx context.Context, username, password string) (model.Identity, error) {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: register: %w", err)
	}

	tx, err := g.store.Tx(ctx)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: register: %w", err)
	}
	user, err := tx.RegisterUser(username, hash)
	if err != nil {
		if errors.Is(err, datastore.ErrUserExists) {
			return model.Identity{}, ErrDuplicateUser
		}
		return model.Identity{}, fmt.Errorf("auth: register: %w", err)
	}

	return model.Identity{Username: user.Username, Role: model.RoleUser}, nil
}

func (g *Gateway) login(username, password string) (model.Identity, error) {
	user, err := g.store.NonTx().GetUserByUsername(username)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: login: %w", err)
	}
	if user == nil {
		return model.Identity{}, ErrInvalidCredentials
	}

	ok, err := crypto.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: login: %w", err)
	}
	if !ok {
		return model.Identity{}, ErrInvalidCredentials
	}

	banned, err := g.store.NonTx().IsBanned(username)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: login: %w", err)
	}
	if banned {
		return model.Identity{}, ErrBanned
	}

	return model.Identity{Username: user.Username, Role: model.RoleUser}, nil
}

func (g *Gateway) admin(username, password string) (model.Identity, error) {
	admin, err := g.store.NonTx().GetAdminByUsername(username)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: admin login: %w", err)
	}
	if admin == nil {
		return model.Identity{}, ErrInvalidCredentials
	}

	ok, err := crypto.VerifyPassword(password, admin.PasswordHash)
	if err != nil {
		return model.Identity{}, fmt.Errorf("auth: admin login: %w", err)
	}
	if !ok {
		return model.Identity{}, ErrInvalidCredentials
	}

	return model.Identity{Username: admin.Username, Role: model.RoleAdmin}, nil
}
