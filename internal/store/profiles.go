package store

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/secrets"
	"gorm.io/gorm"
)

func passphraseKey(id string) string {
	return id + "/passphrase"
}

// SaveProfile stores cfg as a new profile and returns it as saved. An empty
// id gets a UUID; a name already taken gets a "(n)" suffix. The password
// and passphrase go to the secrets store.
func (s *Store) SaveProfile(cfg config.ConnectionConfig) (config.ConnectionConfig, error) {
	if cfg.ID == "" {
		cfg.ID = s.newID()
	}
	if err := cfg.ValidateTarget(); err != nil {
		return config.ConnectionConfig{}, errors.Wrap(err, errors.CodeConfigInvalid, "invalid profile %s", cfg.Name)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		name, err := uniqueName(tx, cfg.Name, cfg.ID)
		if err != nil {
			return err
		}
		cfg.Name = name

		row := profileFromConfig(cfg)
		existing, err := s.profile(tx, cfg.ID)
		switch {
		case err == nil:
			row.CreatedAt = existing.CreatedAt
			row.HasPassword = row.HasPassword || existing.HasPassword
			row.HasPassphrase = row.HasPassphrase || existing.HasPassphrase
			err = tx.Save(&row).Error
		case errors.IsCode(err, errors.CodeNotFound):
			err = tx.Create(&row).Error
		default:
			return err
		}
		if err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		return s.storeCredentials(cfg)
	})
	if err != nil {
		return config.ConnectionConfig{}, err
	}

	s.logger.Info("profile saved", slog.String("id", cfg.ID), slog.String("name", cfg.Name))
	return cfg, nil
}

// LoadProfile returns the profile with credentials filled from the secrets
// store.
func (s *Store) LoadProfile(id string) (config.ConnectionConfig, error) {
	row, err := s.profile(s.db, id)
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	cfg := row.Config()

	if row.HasPassword {
		if cfg.Password, err = s.secret(id); err != nil {
			return config.ConnectionConfig{}, err
		}
	}
	if row.HasPassphrase {
		if cfg.Passphrase, err = s.secret(passphraseKey(id)); err != nil {
			return config.ConnectionConfig{}, err
		}
	}
	return cfg, nil
}

// ResolveProfile loads a profile by id, falling back to an exact name match.
func (s *Store) ResolveProfile(ref string) (config.ConnectionConfig, error) {
	cfg, err := s.LoadProfile(ref)
	if err == nil || !errors.IsCode(err, errors.CodeNotFound) {
		return cfg, err
	}

	var row Profile
	if err := s.db.Where("name = ?", ref).First(&row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return config.ConnectionConfig{}, errors.New(errors.CodeNotFound, "profile %s not found", ref)
		}
		return config.ConnectionConfig{}, fmt.Errorf("find profile: %w", err)
	}
	return s.LoadProfile(row.ID)
}

// UpdateProfile replaces an existing profile. Empty credentials keep the
// stored ones.
func (s *Store) UpdateProfile(cfg config.ConnectionConfig) error {
	if err := cfg.ValidateTarget(); err != nil {
		return errors.Wrap(err, errors.CodeConfigInvalid, "invalid profile %s", cfg.Name)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.profile(tx, cfg.ID)
		if err != nil {
			return err
		}
		name, err := uniqueName(tx, cfg.Name, cfg.ID)
		if err != nil {
			return err
		}
		cfg.Name = name

		row := profileFromConfig(cfg)
		row.CreatedAt = existing.CreatedAt
		row.HasPassword = row.HasPassword || existing.HasPassword
		row.HasPassphrase = row.HasPassphrase || existing.HasPassphrase
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		return s.storeCredentials(cfg)
	})
}

// DeleteProfile removes the profile, its tabs and its secrets. Deleting a
// missing profile is not an error.
func (s *Store) DeleteProfile(id string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("connection_id = ?", id).Delete(&Tab{}).Error; err != nil {
			return fmt.Errorf("delete tabs: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&Profile{}).Error; err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.forgetCredentials(id)
	return nil
}

// ListProfiles returns every profile without credentials, newest first.
func (s *Store) ListProfiles() ([]config.ConnectionConfig, error) {
	var rows []Profile
	if err := s.db.Order("created_at DESC, name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]config.ConnectionConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Config())
	}
	return out, nil
}

// ExportProfiles serializes every profile, keyed by id, without passwords.
func (s *Store) ExportProfiles() ([]byte, error) {
	profiles, err := s.ListProfiles()
	if err != nil {
		return nil, err
	}
	export := make(map[string]config.ConnectionConfig, len(profiles))
	for _, p := range profiles {
		export[p.ID] = p
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}

// ImportProfiles reads the ExportProfiles format. Every entry is validated
// before anything is written; names are made unique against existing
// profiles. It returns the number of imported profiles.
func (s *Store) ImportProfiles(data []byte) (int, error) {
	var imported map[string]config.ConnectionConfig
	if err := json.Unmarshal(data, &imported); err != nil {
		return 0, errors.Wrap(err, errors.CodeConfigInvalid, "parse import data")
	}

	keys := make([]string, 0, len(imported))
	for k := range imported {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	configs := make([]config.ConnectionConfig, 0, len(keys))
	for _, k := range keys {
		cfg := imported[k]
		if cfg.ID == "" {
			cfg.ID = k
		}
		if cfg.AuthMethod == "" {
			cfg.AuthMethod = config.AuthPassword
		}
		if cfg.Prompt.IsZero() {
			cfg.Prompt = config.DefaultPromptConfig()
		}
		if err := cfg.ValidateTarget(); err != nil {
			return 0, errors.Wrap(err, errors.CodeConfigInvalid, "invalid profile %s", k)
		}
		configs = append(configs, cfg)
	}

	for _, cfg := range configs {
		if _, err := s.SaveProfile(cfg); err != nil {
			return 0, err
		}
	}
	s.logger.Info("profiles imported", slog.Int("count", len(configs)))
	return len(configs), nil
}

// DeleteAllProfiles removes every profile, tab and stored secret.
func (s *Store) DeleteAllProfiles() error {
	var ids []string
	if err := s.db.Model(&Profile{}).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("list profile ids: %w", err)
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Tab{}).Error; err != nil {
			return fmt.Errorf("delete tabs: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&Profile{}).Error; err != nil {
			return fmt.Errorf("delete profiles: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.forgetCredentials(id)
	}
	return nil
}

// LoadSecret returns the stored password of a profile.
func (s *Store) LoadSecret(id string) (string, error) {
	return secrets.StoreLoader{Store: s.secrets}.LoadSecret(id)
}

func (s *Store) profile(tx *gorm.DB, id string) (Profile, error) {
	var row Profile
	if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, errors.New(errors.CodeNotFound, "profile %s not found", id)
		}
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return row, nil
}

func (s *Store) secret(key string) (string, error) {
	v, err := s.secrets.Get(key)
	if err != nil {
		if stderrors.Is(err, secrets.ErrSecretNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load secret: %w", err)
	}
	return v, nil
}

func (s *Store) storeCredentials(cfg config.ConnectionConfig) error {
	if cfg.Password != "" {
		if err := s.secrets.Set(cfg.ID, cfg.Password); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}
	if cfg.Passphrase != "" {
		if err := s.secrets.Set(passphraseKey(cfg.ID), cfg.Passphrase); err != nil {
			return fmt.Errorf("store passphrase: %w", err)
		}
	}
	return nil
}

func (s *Store) forgetCredentials(id string) {
	for _, key := range []string{id, passphraseKey(id)} {
		if err := s.secrets.Delete(key); err != nil {
			s.logger.Warn("delete secret", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

// uniqueName returns base, or base(1), base(2), ... whichever is not used
// by a profile other than self.
func uniqueName(tx *gorm.DB, base, self string) (string, error) {
	name := base
	for n := 1; ; n++ {
		var count int64
		if err := tx.Model(&Profile{}).Where("name = ? AND id <> ?", name, self).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check profile name: %w", err)
		}
		if count == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s(%d)", base, n)
	}
}
