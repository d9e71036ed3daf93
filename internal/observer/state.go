package observer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"lifelog/internal/storage"
)

// Strategy selects how a collection check decides whether to recompute.
type Strategy string

const (
	// StrategyFingerprint recomputes the fingerprint on every check.
	StrategyFingerprint Strategy = "fingerprint"
	// StrategyVersion skips recomputation while the collection version is unchanged.
	StrategyVersion Strategy = "version"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyFingerprint:
		return StrategyFingerprint, nil
	case StrategyVersion:
		return StrategyVersion, nil
	default:
		return "", fmt.Errorf("unknown observer strategy %q", s)
	}
}

// ChangeState is the cached summary of a collection.
type ChangeState struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Count       int       `json:"count"`
	Fingerprint string    `json:"fingerprint"`
	Version     int64     `json:"version"`
}

// Delta describes what changed between two states.
type Delta struct {
	CountDiff int      `json:"countDiff"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Modified  []string `json:"modified"`
}

// ChangeResult is the outcome of checking one collection.
type ChangeResult struct {
	Collection string       `json:"collection"`
	HasChanged bool         `json:"hasChanged"`
	OldState   *ChangeState `json:"oldState"`
	NewState   ChangeState  `json:"newState"`
	Delta      Delta        `json:"changes"`
}

// Fingerprint hashes the (id, mutation time) pairs of a collection. The
// result does not depend on the order of stamps.
func Fingerprint(stamps []storage.Stamp) string {
	sorted := make([]storage.Stamp, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	h := sha256.New()
	for _, st := range sorted {
		h.Write([]byte(st.ID))
		h.Write([]byte{':'})
		h.Write([]byte(strconv.FormatInt(st.UpdatedAt, 10)))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func stampMap(stamps []storage.Stamp) map[string]int64 {
	m := make(map[string]int64, len(stamps))
	for _, st := range stamps {
		m[st.ID] = st.UpdatedAt
	}
	return m
}

// diff compares two id→mutation-time maps. Id lists are sorted.
func diff(prev, cur map[string]int64) Delta {
	d := Delta{
		CountDiff: len(cur) - len(prev),
		Added:     []string{},
		Removed:   []string{},
		Modified:  []string{},
	}
	for id, ts := range cur {
		old, ok := prev[id]
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case old != ts:
			d.Modified = append(d.Modified, id)
		}
	}
	for id := range prev {
		if _, ok := cur[id]; !ok {
			d.Removed = append(d.Removed, id)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}
