package datastore

import (
	"context"
	"time"

	"github.com/mhaas-dev/chatline/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	UserRegistrationProvider
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for all chatline entities.
// Implementations include the default SQLite store and can be extended to
// support PostgreSQL, in-memory stores for testing, or any other backend.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	AdminReadProvider
	AdminWriteProvider

	BanReadProvider
	BanWriteProvider

	MuteReadProvider
	MuteWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type UserReadProvider interface {
	GetUserByUsername(username string) (*model.User, error)
	ListUsers() ([]model.User, error)
}

type UserWriteProvider interface {
	CreateUser(username, passwordHash string) (*model.User, error)
}

// UserRegistrationProvider is the transactional check-and-insert used by the
// register flow: the duplicate check and the insert must be atomic.
type UserRegistrationProvider interface {
	RegisterUser(username, passwordHash string) (*model.User, error)
}

type AdminReadProvider interface {
	GetAdminByUsername(username string) (*model.Admin, error)
	HasAdmins() (bool, error)
}

type AdminWriteProvider interface {
	CreateAdmin(username, passwordHash string) (*model.Admin, error)
}

type BanReadProvider interface {
	IsBanned(username string) (bool, error)
	ListBans() ([]model.Ban, error)
}

type BanWriteProvider interface {
	CreateBan(username, reason, bannedBy string, expiresAt time.Time) error
	DeleteBans(username string) error
}

type MuteReadProvider interface {
	ListMutes() ([]model.MuteEntry, error)
}

type MuteWriteProvider interface {
	UpsertMute(username, mutedBy string, expiresAt time.Time) error
	DeleteMute(username string) error
}
