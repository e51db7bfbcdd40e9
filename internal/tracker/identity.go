package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

type compiledSegment struct {
	name    string
	trait   string
	matcher *analytics.Matcher
}

// compileSegments drops rules that fail to compile; a bad rule must not disable identify
func (t *Tracker) compileSegments(rules []analytics.SegmentRule) []compiledSegment {
	out := make([]compiledSegment, 0, len(rules))
	for _, rule := range rules {
		m, err := analytics.CompileConditions(rule.Conditions)
		if err != nil {
			t.logger.Warn("Skipping invalid segment rule",
				zap.String("segment", rule.Name),
				zap.Error(err),
			)
			continue
		}
		if rule.Trait == "" && rule.Name == "" {
			continue
		}
		out = append(out, compiledSegment{name: rule.Name, trait: rule.Trait, matcher: m})
	}
	return out
}

// segmentsFor evaluates every rule against traits. Results are sorted and unique.
func (t *Tracker) segmentsFor(traits map[string]interface{}) []string {
	record := analytics.Traits(traits)
	seen := make(map[string]struct{})

	for _, seg := range t.segments {
		name := seg.name
		if seg.trait != "" {
			v, ok := record.Field(seg.trait)
			if !ok || v == nil {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(v))
			if s == "" {
				continue
			}
			name = s + "_users"
		}
		if !seg.matcher.Match(record) {
			continue
		}
		seen[name] = struct{}{}
	}

	segments := make([]string, 0, len(seen))
	for name := range seen {
		segments = append(segments, name)
	}
	sort.Strings(segments)
	return segments
}

func (t *Tracker) key(name string) string {
	if t.cfg.Namespace == "" {
		return name
	}
	return t.cfg.Namespace + ":" + name
}

// newSessionID returns "<epoch_ms>-<9 base36 chars>"
func (t *Tracker) newSessionID() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(t.now().UnixMilli(), 10))
	b.WriteByte('-')
	for i := 0; i < 9; i++ {
		b.WriteByte(base36[rand.IntN(len(base36))])
	}
	return b.String()
}

func (t *Tracker) loadOrCreateSession(ctx context.Context) string {
	key := t.key(SessionKey)

	id, err := t.storage.Get(ctx, key)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, analytics.ErrNotFound) {
		t.logger.Error("Failed to load session id", zap.Error(err))
	}

	id = t.newSessionID()
	if err := t.storage.Set(ctx, key, id, t.cfg.SessionTTL); err != nil {
		t.logger.Error("Failed to persist session id", zap.Error(err))
	}
	return id
}

func (t *Tracker) loadProfile(ctx context.Context) *analytics.UserProfile {
	raw, err := t.storage.Get(ctx, t.key(ProfileKey))
	if err != nil {
		if !errors.Is(err, analytics.ErrNotFound) {
			t.logger.Error("Failed to load user profile", zap.Error(err))
		}
		return nil
	}

	var profile analytics.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		t.logger.Error("Failed to parse user profile", zap.Error(err))
		return nil
	}
	if profile.Traits == nil {
		profile.Traits = make(map[string]interface{})
	}
	return &profile
}

func (t *Tracker) saveProfile(ctx context.Context, profile *analytics.UserProfile) {
	data, err := json.Marshal(profile)
	if err != nil {
		t.logger.Error("Failed to encode user profile", zap.Error(err))
		return
	}
	if err := t.storage.Set(ctx, t.key(ProfileKey), string(data), 0); err != nil {
		t.logger.Error("Failed to persist user profile",
			zap.String("user_id", profile.UserID),
			zap.Error(err),
		)
	}
}

// Identify associates the session with a user. Traits are merged into the profile of
// the same user; a different user starts a fresh profile. Segments are recomputed.
func (t *Tracker) Identify(ctx context.Context, userID string, traits map[string]interface{}) *analytics.UserProfile {
	t.mu.Lock()
	now := t.now()

	profile := t.profile
	if profile == nil || profile.UserID != userID {
		profile = &analytics.UserProfile{
			UserID:    userID,
			Traits:    make(map[string]interface{}),
			CreatedAt: now,
		}
	}
	for k, v := range traits {
		profile.Traits[k] = v
	}
	profile.LastSeen = now
	profile.Segments = t.segmentsFor(profile.Traits)

	t.profile = profile
	t.userID = userID
	snapshot := profile.Clone()
	t.mu.Unlock()

	t.saveProfile(ctx, snapshot)

	if t.dispatcher != nil {
		t.dispatcher.Identify(ctx, userID, snapshot.Traits)
	}
	return snapshot
}

// UserProfile returns a copy of the current profile, or nil before Identify
func (t *Tracker) UserProfile() *analytics.UserProfile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile.Clone()
}

// Reset forgets the identified user and starts a new session
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.profile = nil
	t.userID = ""
	t.sessionID = t.newSessionID()
	sessionID := t.sessionID
	t.mu.Unlock()

	if err := t.storage.Delete(ctx, t.key(ProfileKey)); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if err := t.storage.Set(ctx, t.key(SessionKey), sessionID, t.cfg.SessionTTL); err != nil {
		return fmt.Errorf("store session id: %w", err)
	}
	return nil
}
