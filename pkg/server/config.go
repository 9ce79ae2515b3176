package server

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mhaas-dev/chatline/pkg/datastore"
	"gopkg.in/yaml.v3"
)

// RoomYAML represents a room in YAML config.
type RoomYAML struct {
	Name string `yaml:"name"`
}

// RoomsConfig is the top-level YAML config for rooms.
type RoomsConfig struct {
	Rooms []RoomYAML `yaml:"rooms"`
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	ID        int64  `yaml:"id"`
	Username  string `yaml:"username"`
	Role      string `yaml:"role"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// LoadRoomsFromYAML reads a rooms YAML file and creates the rooms in the registry.
func LoadRoomsFromYAML(path string, rooms *RoomRegistry) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read rooms config: %w", err)
	}
	return ImportRoomsFromYAML(data, rooms)
}

// ImportRoomsFromYAML parses YAML data and creates the listed rooms.
// Rooms that already exist keep their membership.
func ImportRoomsFromYAML(data []byte, rooms *RoomRegistry) error {
	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse rooms config: %w", err)
	}

	created := 0
	for _, room := range cfg.Rooms {
		if room.Name == "" || len(room.Name) > MaxRoomNameLength {
			slog.Error("skipping invalid room name from config", "name", room.Name)
			continue
		}
		if err := rooms.Create(room.Name); err != nil {
			continue // already exists
		}
		created++
	}

	slog.Info("imported rooms from YAML", "count", created)
	return nil
}

// ExportUsersYAML exports all registered users as YAML.
func ExportUsersYAML(st datastore.DataProviderFactory) ([]byte, error) {
	users, err := st.NonTx().ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Username:  u.Username,
			Role:      u.Role.String(),
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
