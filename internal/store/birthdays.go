package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cakeday/internal/domain"
)

const (
	birthdaysFile  = "birthdays.json"
	adminsFile     = "admins.json"
	maxBackupFiles = 10
)

type birthdaysDoc map[string]domain.BirthdayRecord

// Birthdays returns every record keyed by user ID.
func (s *Store) Birthdays() (map[string]domain.BirthdayRecord, error) {
	doc := birthdaysDoc{}
	if err := s.ReadJSON(birthdaysFile, &doc); err != nil && err != ErrNotFound {
		return nil, err
	}

	out := make(map[string]domain.BirthdayRecord, len(doc))
	for userID, rec := range doc {
		rec.UserID = userID
		out[userID] = rec
	}
	return out, nil
}

// Birthday returns one record or ErrNotFound.
func (s *Store) Birthday(userID string) (domain.BirthdayRecord, error) {
	all, err := s.Birthdays()
	if err != nil {
		return domain.BirthdayRecord{}, err
	}
	rec, ok := all[userID]
	if !ok {
		return domain.BirthdayRecord{}, ErrNotFound
	}
	return rec, nil
}

// SaveBirthday inserts or replaces a record, preserving CreatedAt on update.
func (s *Store) SaveBirthday(ctx context.Context, rec domain.BirthdayRecord, reason string) error {
	return s.mutateBirthdays(ctx, reason, func(doc birthdaysDoc) error {
		now := time.Now().UTC()
		if existing, ok := doc[rec.UserID]; ok {
			rec.CreatedAt = existing.CreatedAt
		} else {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		doc[rec.UserID] = rec
		return nil
	})
}

// RemoveBirthday deletes a record outright. Prefer Deactivate for members
// who merely left the channel.
func (s *Store) RemoveBirthday(ctx context.Context, userID, reason string) error {
	return s.mutateBirthdays(ctx, reason, func(doc birthdaysDoc) error {
		if _, ok := doc[userID]; !ok {
			return ErrNotFound
		}
		delete(doc, userID)
		return nil
	})
}

// SetBirthdayActive flips preferences.active, the soft-removal path.
func (s *Store) SetBirthdayActive(ctx context.Context, userID string, active bool, reason string) error {
	return s.mutateBirthdays(ctx, reason, func(doc birthdaysDoc) error {
		rec, ok := doc[userID]
		if !ok {
			return ErrNotFound
		}
		rec.Preferences.Active = active
		rec.UpdatedAt = time.Now().UTC()
		doc[userID] = rec
		return nil
	})
}

func (s *Store) mutateBirthdays(ctx context.Context, reason string, mutate func(birthdaysDoc) error) error {
	err := s.withLock(ctx, birthdaysFile, func() error {
		doc := birthdaysDoc{}
		if err := s.ReadJSON(birthdaysFile, &doc); err != nil && err != ErrNotFound {
			return err
		}

		if err := mutate(doc); err != nil {
			return err
		}

		if err := s.WriteJSON(birthdaysFile, doc); err != nil {
			return err
		}
		return s.rotateBackup()
	})
	if err != nil {
		return err
	}

	if s.OnBirthdaysChanged != nil {
		s.OnBirthdaysChanged(reason)
	}
	return nil
}

// rotateBackup copies the current birthdays file into the backup ring and
// prunes the oldest entries beyond the cap.
func (s *Store) rotateBackup() error {
	data, err := os.ReadFile(s.path(birthdaysFile))
	if err != nil {
		return fmt.Errorf("read birthdays for backup: %w", err)
	}

	name := fmt.Sprintf("birthdays_%s.json", time.Now().UTC().Format("20060102T150405.000"))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	entries, err := filepath.Glob(filepath.Join(s.backupDir, "birthdays_*.json"))
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	sort.Strings(entries)
	for len(entries) > maxBackupFiles {
		oldest := entries[0]
		entries = entries[1:]
		if err := os.Remove(oldest); err != nil {
			s.logger.Warn("prune backup failed", slog.String("file", oldest), slog.String("error", err.Error()))
		}
	}
	return nil
}

// BirthdaysPath is where the external backup publisher reads the live file.
func (s *Store) BirthdaysPath() string {
	return s.path(birthdaysFile)
}

type adminsDoc struct {
	Admins []string `json:"admins"`
}

// Admins returns the persisted admin user IDs.
func (s *Store) Admins() ([]string, error) {
	doc := adminsDoc{}
	if err := s.ReadJSON(adminsFile, &doc); err != nil && err != ErrNotFound {
		return nil, err
	}
	return doc.Admins, nil
}

// SaveAdmins replaces the admin list.
func (s *Store) SaveAdmins(ctx context.Context, admins []string) error {
	return s.withLock(ctx, adminsFile, func() error {
		return s.WriteJSON(adminsFile, adminsDoc{Admins: admins})
	})
}
