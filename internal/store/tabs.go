package store

import (
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/acolita/shellconn/internal/errors"
	"gorm.io/gorm"
)

// ListTabs returns every tab, newest first.
func (s *Store) ListTabs() ([]Tab, error) {
	var tabs []Tab
	if err := s.db.Order("created_at DESC, id ASC").Find(&tabs).Error; err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	return tabs, nil
}

// AddTab opens a tab for connectionID and makes it active. If the
// connection already has a tab, that tab is re-activated instead and its id
// returned.
func (s *Store) AddTab(connectionID, title string) (string, error) {
	var id string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, ok, err := tabByConnection(tx, connectionID)
		if err != nil {
			return err
		}
		if ok {
			id = existing.ID
			return activate(tx, id)
		}

		if err := deactivateAll(tx); err != nil {
			return err
		}
		tab := Tab{ID: s.newID(), ConnectionID: connectionID, Title: title, Active: true}
		if err := tx.Create(&tab).Error; err != nil {
			return fmt.Errorf("create tab: %w", err)
		}
		id = tab.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("tab added", slog.String("tab", id), slog.String("connection", connectionID))
	return id, nil
}

// RemoveTab deletes a tab. When the active tab goes away the newest
// remaining tab becomes active.
func (s *Store) RemoveTab(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		tab, err := tabByID(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(&Tab{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete tab: %w", err)
		}
		if !tab.Active {
			return nil
		}

		var next Tab
		err = tx.Order("created_at DESC, id ASC").First(&next).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next tab: %w", err)
		}
		return activate(tx, next.ID)
	})
}

// SetActiveTab makes id the only active tab.
func (s *Store) SetActiveTab(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := tabByID(tx, id); err != nil {
			return err
		}
		return activate(tx, id)
	})
}

// ActiveTab returns the active tab, if any.
func (s *Store) ActiveTab() (Tab, bool, error) {
	var tab Tab
	err := s.db.Where("active = ?", true).First(&tab).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return Tab{}, false, nil
	}
	if err != nil {
		return Tab{}, false, fmt.Errorf("find active tab: %w", err)
	}
	return tab, true, nil
}

// CloseAllTabs deletes every tab.
func (s *Store) CloseAllTabs() error {
	if err := s.db.Where("1 = 1").Delete(&Tab{}).Error; err != nil {
		return fmt.Errorf("close tabs: %w", err)
	}
	return nil
}

// CloseOtherTabs deletes every tab except keepID, which becomes active.
func (s *Store) CloseOtherTabs(keepID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := tabByID(tx, keepID); err != nil {
			return err
		}
		if err := tx.Where("id <> ?", keepID).Delete(&Tab{}).Error; err != nil {
			return fmt.Errorf("close other tabs: %w", err)
		}
		return activate(tx, keepID)
	})
}

// TabByConnection returns the tab bound to connectionID, if any.
func (s *Store) TabByConnection(connectionID string) (Tab, bool, error) {
	return tabByConnection(s.db, connectionID)
}

func tabByID(tx *gorm.DB, id string) (Tab, error) {
	var tab Tab
	if err := tx.Where("id = ?", id).First(&tab).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return Tab{}, errors.New(errors.CodeNotFound, "tab %s not found", id)
		}
		return Tab{}, fmt.Errorf("load tab: %w", err)
	}
	return tab, nil
}

func tabByConnection(tx *gorm.DB, connectionID string) (Tab, bool, error) {
	var tab Tab
	err := tx.Where("connection_id = ?", connectionID).First(&tab).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return Tab{}, false, nil
	}
	if err != nil {
		return Tab{}, false, fmt.Errorf("find tab: %w", err)
	}
	return tab, true, nil
}

func deactivateAll(tx *gorm.DB) error {
	if err := tx.Model(&Tab{}).Where("active = ?", true).Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate tabs: %w", err)
	}
	return nil
}

func activate(tx *gorm.DB, id string) error {
	if err := deactivateAll(tx); err != nil {
		return err
	}
	if err := tx.Model(&Tab{}).Where("id = ?", id).Update("active", true).Error; err != nil {
		return fmt.Errorf("activate tab: %w", err)
	}
	return nil
}
