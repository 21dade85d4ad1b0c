// Package featureflags evaluates operator-configured feature switches.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	// FeedCache serves the unpaginated feed through Redis cache-aside.
	FeedCache = "feed_cache"
	// LiveFeed enables the websocket feed of campaign updates.
	LiveFeed = "live_feed"
)

// rule is a parsed flag value. percent is 0..100; anything that fails to
// parse is stored as 0 so it evaluates off.
type rule struct {
	raw     string
	percent int
	rollout bool
}

// Manager evaluates flags from a comma separated key=value list such as
// "feed_cache=on,live_feed=25%".
type Manager struct {
	rules map[string]rule
}

func NewManager(raw string) *Manager {
	m := &Manager{rules: make(map[string]rule)}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key, value = normalize(key), normalize(value)
		if !ok || key == "" || value == "" {
			continue
		}
		m.rules[key] = parseRule(value)
	}
	return m
}

func parseRule(value string) rule {
	r := rule{raw: value}
	switch value {
	case "on", "true", "1":
		r.percent = 100
	case "off", "false", "0":
	default:
		if pct, ok := strings.CutSuffix(value, "%"); ok {
			if n, err := strconv.Atoi(pct); err == nil {
				r.percent = min(max(n, 0), 100)
				r.rollout = r.percent > 0 && r.percent < 100
			}
		}
	}
	return r
}

// Enabled reports whether name is on for userID. Partial rollouts bucket
// users deterministically and never include anonymous callers.
func (m *Manager) Enabled(name, userID string) bool {
	if m == nil {
		return false
	}
	r, ok := m.rules[normalize(name)]
	switch {
	case !ok || r.percent == 0:
		return false
	case !r.rollout:
		return true
	case userID == "":
		return false
	default:
		return rolloutBucket(name, userID) < r.percent
	}
}

// Raw returns the configured values as written (normalized).
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.rules))
	for k, r := range m.rules {
		out[k] = r.raw
	}
	return out
}

// Snapshot evaluates every configured flag for userID.
func (m *Manager) Snapshot(userID string) map[string]bool {
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
