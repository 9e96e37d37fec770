// Package personality defines the fixed set of announcement voices. Each
// personality is a variant carrying its template data; the dynamic pieces
// (random rotation, custom overrides) live in the Selector.
package personality

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"cakeday/internal/domain"
	"cakeday/internal/store"
)

// Key names a personality.
type Key string

const (
	KeyCheerleader Key = "cheerleader"
	KeyPoet        Key = "poet"
	KeyComedian    Key = "comedian"
	KeyWizard      Key = "wizard"
	KeyPirate      Key = "pirate"
	KeyZen         Key = "zen"

	// Meta personalities: never in the random birthday pool.
	KeyRandom     Key = "random"
	KeyCustom     Key = "custom"
	KeyChronicler Key = "chronicler"
)

// recentExclusionWindow is how many past random picks are excluded from the
// next one.
const recentExclusionWindow = 3

// Personality is one voice: system-prompt extension, image prompt, and the
// fallback used when generation fails. Template text is data; treat the
// wording as load-bearing.
type Personality struct {
	Key             Key
	DisplayName     string
	Emoji           string
	StyleExtension  string
	ImagePrompt     string // placeholders: {name} {title} {message_context} {profile_elements}
	Fallback        string // placeholder: {mentions}
	WantsHistorical bool
}

// IsMeta reports whether the key is one of the non-pickable meta voices.
func IsMeta(k Key) bool {
	return k == KeyRandom || k == KeyCustom || k == KeyChronicler
}

// Get returns a personality by key.
func Get(k Key) (Personality, bool) {
	p, ok := registry[k]
	return p, ok
}

// BirthdayPool is every personality eligible for birthday celebrations.
func BirthdayPool() []Personality {
	out := make([]Personality, 0, len(poolOrder))
	for _, k := range poolOrder {
		out = append(out, registry[k])
	}
	return out
}

// Chronicler is the reserved voice for special-day announcements.
func Chronicler() Personality {
	return registry[KeyChronicler]
}

// Selector resolves the configured personality, expanding "random" with a
// persisted recent-pick exclusion window and "custom" with the operator's
// stored settings.
type Selector struct {
	store *store.Store

	mu   sync.Mutex
	rand *rand.Rand
}

func NewSelector(st *store.Store, rng *rand.Rand) *Selector {
	return &Selector{store: st, rand: rng}
}

// Current returns the configured personality key, defaulting to random.
func (s *Selector) Current() (Key, error) {
	state, err := s.store.PersonalityState()
	if err != nil {
		return "", fmt.Errorf("load personality state: %w", err)
	}
	if state.Current == "" {
		return KeyRandom, nil
	}
	return Key(state.Current), nil
}

// SetCurrent persists a new personality selection.
func (s *Selector) SetCurrent(ctx context.Context, k Key) error {
	if _, ok := registry[k]; !ok && k != KeyRandom && k != KeyCustom {
		return domain.E(domain.KindInputInvalid, "unknown personality: "+string(k))
	}

	state, err := s.store.PersonalityState()
	if err != nil {
		return fmt.Errorf("load personality state: %w", err)
	}
	state.Current = string(k)
	return s.store.SavePersonalityState(ctx, state)
}

// PickForBirthday resolves the voice for a birthday celebration. An
// explicit override wins; "random" draws uniformly from the pool excluding
// the most recent picks, and the draw is persisted.
func (s *Selector) PickForBirthday(ctx context.Context, override string) (Personality, error) {
	if override != "" {
		k := Key(override)
		if p, ok := registry[k]; ok && !IsMeta(k) {
			return p, nil
		}
		return Personality{}, domain.E(domain.KindInputInvalid, "personality not usable for birthdays: "+override)
	}

	current, err := s.Current()
	if err != nil {
		return Personality{}, err
	}

	switch current {
	case KeyRandom:
		return s.pickRandom(ctx)
	case KeyCustom:
		return s.customPersonality()
	case KeyChronicler:
		// Reserved for special days; fall through to a random draw.
		return s.pickRandom(ctx)
	default:
		if p, ok := registry[current]; ok {
			return p, nil
		}
		return s.pickRandom(ctx)
	}
}

func (s *Selector) pickRandom(ctx context.Context) (Personality, error) {
	state, err := s.store.PersonalityState()
	if err != nil {
		return Personality{}, fmt.Errorf("load personality state: %w", err)
	}

	recent := map[string]bool{}
	for _, k := range state.RecentPersonalities {
		recent[k] = true
	}

	candidates := make([]Key, 0, len(poolOrder))
	for _, k := range poolOrder {
		if !recent[string(k)] {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		candidates = append(candidates, poolOrder...)
	}

	s.mu.Lock()
	picked := candidates[s.rand.Intn(len(candidates))]
	s.mu.Unlock()

	state.RecentPersonalities = append(state.RecentPersonalities, string(picked))
	if len(state.RecentPersonalities) > recentExclusionWindow {
		state.RecentPersonalities = state.RecentPersonalities[len(state.RecentPersonalities)-recentExclusionWindow:]
	}
	if err := s.store.SavePersonalityState(ctx, state); err != nil {
		return Personality{}, err
	}

	return registry[picked], nil
}

func (s *Selector) customPersonality() (Personality, error) {
	state, err := s.store.PersonalityState()
	if err != nil {
		return Personality{}, fmt.Errorf("load personality state: %w", err)
	}

	base := registry[KeyCheerleader]
	p := Personality{
		Key:            KeyCustom,
		DisplayName:    "Custom",
		Emoji:          ":sparkles:",
		StyleExtension: strings.TrimSpace(state.CustomSettings["style"]),
		ImagePrompt:    strings.TrimSpace(state.CustomSettings["image_prompt"]),
		Fallback:       strings.TrimSpace(state.CustomSettings["fallback"]),
	}
	if p.StyleExtension == "" {
		p.StyleExtension = base.StyleExtension
	}
	if p.ImagePrompt == "" {
		p.ImagePrompt = base.ImagePrompt
	}
	if p.Fallback == "" {
		p.Fallback = base.Fallback
	}
	return p, nil
}
