package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	slackapi "github.com/slack-go/slack"

	"cakeday/internal/domain"
	"cakeday/internal/slack"
	"cakeday/internal/store"
)

const (
	cacheSize = 1000
	cacheTTL  = 24 * time.Hour
)

// Resolver fetches user profiles and channel membership, caching profiles
// in a bounded LRU with TTL so celebration bursts do not hammer the API.
type Resolver struct {
	client slack.Client
	store  *store.Store
	cache  *expirable.LRU[string, domain.UserProfile]
	logger *slog.Logger
}

func NewResolver(client slack.Client, st *store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		client: client,
		store:  st,
		cache:  expirable.NewLRU[string, domain.UserProfile](cacheSize, nil, cacheTTL),
		logger: logger,
	}
}

// Profile returns the cached profile or fetches and caches it.
func (r *Resolver) Profile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if cached, ok := r.cache.Get(userID); ok {
		return cached, nil
	}

	user, err := r.client.UserInfo(ctx, userID)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("resolve profile: %w", err)
	}

	profile := domain.UserProfile{
		UserID:       user.ID,
		DisplayName:  user.Profile.DisplayName,
		RealName:     user.Profile.RealName,
		Title:        user.Profile.Title,
		Timezone:     user.TZ,
		TZOffsetSecs: user.TZOffset,
		IsDeleted:    user.Deleted,
		IsBot:        user.IsBot,
		IsAdmin:      user.IsAdmin,
		PhotoURLs: map[string]string{
			"image_72":  user.Profile.Image72,
			"image_192": user.Profile.Image192,
			"image_512": user.Profile.Image512,
		},
		FetchedAt: time.Now().UTC(),
	}

	// Custom profile fields need a second call; a failure there degrades
	// to the base profile rather than failing the lookup.
	if full, err := r.client.UserProfile(ctx, userID); err == nil {
		profile.CustomFields = customFieldMap(full)
	} else {
		r.logger.DebugContext(ctx, "custom profile fields unavailable", slog.String("user_id", userID), slog.String("error", err.Error()))
	}

	r.cache.Add(userID, profile)
	return profile, nil
}

// Username returns the display name without forcing callers to handle a
// full profile.
func (r *Resolver) Username(ctx context.Context, userID string) string {
	profile, err := r.Profile(ctx, userID)
	if err != nil {
		return userID
	}
	return profile.PreferredName()
}

// IsAdmin consults the persisted admin list first, then the platform-level
// admin flag. The flag is mirrored into the permissions file so a Slack
// outage does not lock admins out of their commands.
func (r *Resolver) IsAdmin(ctx context.Context, userID string) (bool, error) {
	admins, err := r.store.Admins()
	if err != nil {
		return false, fmt.Errorf("load admin list: %w", err)
	}
	for _, id := range admins {
		if id == userID {
			return true, nil
		}
	}

	profile, err := r.Profile(ctx, userID)
	if err != nil {
		if perms, perr := r.store.Permissions(); perr == nil {
			if flag, ok := perms[userID]; ok {
				return flag, nil
			}
		}
		return false, err
	}

	r.persistAdminFlag(ctx, userID, profile.IsAdmin)
	return profile.IsAdmin, nil
}

func (r *Resolver) persistAdminFlag(ctx context.Context, userID string, isAdmin bool) {
	perms, err := r.store.Permissions()
	if err != nil {
		return
	}
	if flag, ok := perms[userID]; ok && flag == isAdmin {
		return
	}
	perms[userID] = isAdmin
	if err := r.store.SavePermissions(ctx, perms); err != nil {
		r.logger.WarnContext(ctx, "admin flag persistence failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

// ChannelMembers lists the full membership of a channel.
func (r *Resolver) ChannelMembers(ctx context.Context, channelID string) ([]string, error) {
	members, err := r.client.ConversationMembers(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list channel members: %w", err)
	}
	return members, nil
}

// IsChannelMember reports whether the user currently belongs to the channel.
func (r *Resolver) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	members, err := r.ChannelMembers(ctx, channelID)
	if err != nil {
		return false, err
	}
	for _, id := range members {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops a cached profile, used after membership changes.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Remove(userID)
}

// CacheLen exposes the cache size for ops reporting.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

func customFieldMap(p *slackapi.UserProfile) map[string]string {
	if p == nil || p.Fields.Len() == 0 {
		return nil
	}
	out := make(map[string]string)
	for _, f := range p.Fields.ToMap() {
		label := f.Label
		if label == "" {
			label = f.Alt
		}
		if label != "" && f.Value != "" {
			out[label] = f.Value
		}
	}
	return out
}
