package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeysList holds the valid flat keys of config.toml, sorted for
// deterministic suggestions when two candidates have the same distance.
var knownKeysList = func() []string {
	keys := []string{
		// Remote
		"remote_url", "subscribe",
		// Sync
		"sync_mode", "flush_timeout",
		// Storage
		"data_dir", "identity_file",
		// Logging
		"log_level", "log_file", "log_format", "log_retention_days",
		// Network
		"connect_timeout", "data_timeout", "user_agent",
	}

	sort.Strings(keys)

	return keys
}()

// CheckUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each one. known is the list of
// valid flat keys for the file being decoded.
func CheckUnknownKeys(md *toml.MetaData, known []string) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		name := key.String()
		if len(key) > 0 {
			name = key[0]
		}

		if slices.Contains(known, name) {
			// Known parent with an unexpected nested value; toml reports
			// the type mismatch itself.
			continue
		}

		if suggestion := closestMatch(name, known); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q: did you mean %q?", name, suggestion))
			continue
		}

		errs = append(errs, fmt.Errorf("unknown config key %q", name))
	}

	return errors.Join(errs...)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using two
// rolling rows instead of a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
