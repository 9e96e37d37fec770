package store

import (
	"context"
	"time"

	"cakeday/internal/domain"
)

const announcementsFile = "announcements.json"

// ledgerEntry is one day's announcement record. Membership in either user
// set means the celebration already fired and must not fire again.
type ledgerEntry struct {
	AnnouncedUserIDs  []string `json:"announced_user_ids"`
	TimezoneBucketIDs []string `json:"announced_timezone_bucket_user_ids"`
	BotSelfAnnounced  bool     `json:"bot_self_announced"`
	SpecialDays       []string `json:"special_days_announced"`
}

type ledgerDoc map[string]ledgerEntry

func (e ledgerEntry) hasUser(userID string) bool {
	for _, id := range e.AnnouncedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (e ledgerEntry) hasBucket(key string) bool {
	for _, id := range e.TimezoneBucketIDs {
		if id == key {
			return true
		}
	}
	return false
}

func (e ledgerEntry) hasSpecialDay(key string) bool {
	for _, id := range e.SpecialDays {
		if id == key {
			return true
		}
	}
	return false
}

// DateKey renders the ledger key for a day.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MarkCelebrated performs the check-and-set for fleet-wide mode under the
// announcements file lock. It returns true when the user was newly marked
// and false when today's entry already contained them.
func (s *Store) MarkCelebrated(ctx context.Context, dateKey, userID string) (bool, error) {
	marked := false
	err := s.withLock(ctx, announcementsFile, func() error {
		doc := ledgerDoc{}
		if err := s.ReadJSON(announcementsFile, &doc); err != nil && err != ErrNotFound {
			return err
		}

		entry := doc[dateKey]
		if entry.hasUser(userID) {
			return nil
		}
		entry.AnnouncedUserIDs = append(entry.AnnouncedUserIDs, userID)
		doc[dateKey] = entry
		marked = true
		return s.WriteJSON(announcementsFile, doc)
	})
	return marked, err
}

// MarkCelebratedTZ is the timezone-aware variant; bucketKey is
// "<user_id>:<user_local_date>".
func (s *Store) MarkCelebratedTZ(ctx context.Context, dateKey, bucketKey string) (bool, error) {
	marked := false
	err := s.withLock(ctx, announcementsFile, func() error {
		doc := ledgerDoc{}
		if err := s.ReadJSON(announcementsFile, &doc); err != nil && err != ErrNotFound {
			return err
		}

		entry := doc[dateKey]
		if entry.hasBucket(bucketKey) {
			return nil
		}
		entry.TimezoneBucketIDs = append(entry.TimezoneBucketIDs, bucketKey)
		doc[dateKey] = entry
		marked = true
		return s.WriteJSON(announcementsFile, doc)
	})
	return marked, err
}

// IsCelebrated reports whether the user already appears under the date key
// in either mode.
func (s *Store) IsCelebrated(dateKey, userID string) (bool, error) {
	doc := ledgerDoc{}
	if err := s.ReadJSON(announcementsFile, &doc); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}

	entry := doc[dateKey]
	if entry.hasUser(userID) {
		return true, nil
	}
	for _, bucket := range entry.TimezoneBucketIDs {
		if len(bucket) > len(userID) && bucket[:len(userID)] == userID && bucket[len(userID)] == ':' {
			return true, nil
		}
	}
	return false, nil
}

// IsSpecialDayAnnounced reports whether the observance already went out
// under the date key.
func (s *Store) IsSpecialDayAnnounced(dateKey string, day domain.SpecialDay) (bool, error) {
	doc := ledgerDoc{}
	if err := s.ReadJSON(announcementsFile, &doc); err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return doc[dateKey].hasSpecialDay(day.MMDD() + "|" + day.Name + "|" + string(day.Source)), nil
}

// MarkSpecialDayAnnounced records one observance emission; the key is
// "<mm-dd>|<name>|<source>".
func (s *Store) MarkSpecialDayAnnounced(ctx context.Context, dateKey string, day domain.SpecialDay) (bool, error) {
	key := day.MMDD() + "|" + day.Name + "|" + string(day.Source)
	marked := false
	err := s.withLock(ctx, announcementsFile, func() error {
		doc := ledgerDoc{}
		if err := s.ReadJSON(announcementsFile, &doc); err != nil && err != ErrNotFound {
			return err
		}

		entry := doc[dateKey]
		if entry.hasSpecialDay(key) {
			return nil
		}
		entry.SpecialDays = append(entry.SpecialDays, key)
		doc[dateKey] = entry
		marked = true
		return s.WriteJSON(announcementsFile, doc)
	})
	return marked, err
}

// PruneLedger drops entries older than the retention window.
func (s *Store) PruneLedger(ctx context.Context, now time.Time, retention time.Duration) error {
	cutoff := DateKey(now.Add(-retention))
	return s.withLock(ctx, announcementsFile, func() error {
		doc := ledgerDoc{}
		if err := s.ReadJSON(announcementsFile, &doc); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}

		changed := false
		for key := range doc {
			if key < cutoff {
				delete(doc, key)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return s.WriteJSON(announcementsFile, doc)
	})
}
