// Package featureflags evaluates operator toggles from the FEATURE_FLAGS setting.
package featureflags

import (
	"hash/fnv"
	"slices"
	"strconv"
	"strings"
)

// Flags read by the board.
const (
	// ImageUploads gates photo attachments on new items. Default on.
	ImageUploads = "image_uploads"
	// RealtimeDiscussions gates the discussion socket. Default on.
	RealtimeDiscussions = "realtime_discussions"
)

// rule is one parsed flag value. percent is -1 for values that parse as
// neither a switch nor a rollout, which defer to the caller's default.
type rule struct {
	percent int
}

const unparsed = -1

func parseRule(value string) rule {
	switch value {
	case "on", "true", "1":
		return rule{percent: 100}
	case "off", "false", "0":
		return rule{percent: 0}
	}
	digits, ok := strings.CutSuffix(value, "%")
	if !ok {
		return rule{percent: unparsed}
	}
	n, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil {
		return rule{percent: unparsed}
	}
	return rule{percent: min(max(n, 0), 100)}
}

// Manager holds flags given as "name=value" pairs, e.g.
// "image_uploads=off,realtime_discussions=50%". It is read-only after
// construction.
type Manager struct {
	rules map[string]rule
}

// NewManager parses a comma-separated flag string. Pairs without a name or a
// value are ignored.
func NewManager(raw string) *Manager {
	m := &Manager{rules: map[string]rule{}}
	for _, field := range strings.Split(raw, ",") {
		name, value, _ := strings.Cut(field, "=")
		name, value = canonical(name), canonical(value)
		if name != "" && value != "" {
			m.rules[name] = parseRule(value)
		}
	}
	return m
}

// Enabled reports whether the flag is on for userID. Unknown flags are off.
func (m *Manager) Enabled(name string, userID uint) bool {
	return m.EnabledOr(name, userID, false)
}

// EnabledOr is Enabled with a fallback for flags that are unset or unparseable.
// Values are on/true/1, off/false/0, or N% for a stable per-user rollout that
// anonymous callers never fall into.
func (m *Manager) EnabledOr(name string, userID uint, fallback bool) bool {
	if m == nil {
		return fallback
	}
	r, ok := m.rules[canonical(name)]
	switch {
	case !ok || r.percent == unparsed:
		return fallback
	case r.percent == 0:
		return false
	case r.percent == 100:
		return true
	case userID == 0:
		return false
	}
	return bucket(canonical(name), userID) < r.percent
}

// Names lists the configured flags alphabetically.
func (m *Manager) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.rules))
	for name := range m.rules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Snapshot evaluates every configured flag for userID.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	view := map[string]bool{}
	for _, name := range m.Names() {
		view[name] = m.Enabled(name, userID)
	}
	return view
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bucket places userID in [0,100) for name; the same pair always lands in the
// same bucket.
func bucket(name string, userID uint) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte{':'})
	h.Write(strconv.AppendUint(nil, uint64(userID), 10))
	return int(h.Sum32() % 100)
}
