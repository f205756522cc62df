package store

import (
	"time"

	"github.com/acolita/shellconn/internal/config"
)

// Profile is a saved connection. Credentials never reach this table; they
// live in the secrets store under the profile id.
type Profile struct {
	ID             string              `gorm:"primaryKey;size:64" json:"id"`
	Name           string              `gorm:"uniqueIndex;not null" json:"name"`
	Host           string              `gorm:"not null" json:"host"`
	Port           int                 `gorm:"not null;default:22" json:"port"`
	Username       string              `gorm:"not null" json:"username"`
	PrivateKeyPath string              `json:"private_key_path,omitempty"`
	AuthMethod     config.AuthMethod   `gorm:"not null;default:password" json:"auth_method"`
	Prompt         config.PromptConfig `gorm:"serializer:json;type:text" json:"prompt_config"`
	HasPassword    bool                `gorm:"not null;default:false" json:"-"`
	HasPassphrase  bool                `gorm:"not null;default:false" json:"-"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// Config converts the row to a ConnectionConfig without credentials.
func (p Profile) Config() config.ConnectionConfig {
	return config.ConnectionConfig{
		ID:             p.ID,
		Name:           p.Name,
		Host:           p.Host,
		Port:           p.Port,
		Username:       p.Username,
		PrivateKeyPath: p.PrivateKeyPath,
		AuthMethod:     p.AuthMethod,
		Prompt:         p.Prompt,
	}
}

func profileFromConfig(cfg config.ConnectionConfig) Profile {
	return Profile{
		ID:             cfg.ID,
		Name:           cfg.Name,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Username:       cfg.Username,
		PrivateKeyPath: cfg.PrivateKeyPath,
		AuthMethod:     cfg.AuthMethod,
		Prompt:         cfg.Prompt,
		HasPassword:    cfg.Password != "",
		HasPassphrase:  cfg.Passphrase != "",
	}
}

// Tab is an open terminal tab bound to a connection. At most one tab is
// active.
type Tab struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	ConnectionID string    `gorm:"index;not null" json:"connection_id"`
	Title        string    `json:"title"`
	Active       bool      `gorm:"not null;default:false" json:"active"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
