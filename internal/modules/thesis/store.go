// Package thesis keeps the advisory narrative across sessions and detects
// meaningful strategy changes between runs.
package thesis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// changeThreshold is the similarity ratio below which two narratives count
// as a strategy change. 0.85 keeps cosmetic rewording quiet while flagging
// real pivots.
const changeThreshold = 0.85

// Store persists the latest thesis narrative as a flat file in the data dir.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a thesis store backed by path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{
		path: path,
		log:  log.With().Str("service", "thesis").Logger(),
	}
}

// Load returns the saved narrative, or "" on first run.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read thesis file: %w", err)
	}
	return string(data), nil
}

// Save atomically replaces the saved narrative.
func (s *Store) Save(narrative string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create thesis dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(narrative), 0o644); err != nil {
		return fmt.Errorf("failed to write thesis file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace thesis file: %w", err)
	}
	return nil
}

// Update saves the new narrative and reports whether it represents a
// strategy change relative to the previous one. The very first narrative
// counts as a change (nothing to no-strategy is a meaningful transition);
// an empty narrative keeps the previous one and reports no change.
func (s *Store) Update(narrative string) (changed bool, err error) {
	previous, err := s.Load()
	if err != nil {
		return false, err
	}

	changed = narrative != "" && Changed(previous, narrative)
	if changed {
		s.log.Info().
			Float64("similarity", SimilarityRatio(previous, narrative)).
			Msg("Strategy thesis changed")
	}

	if narrative != "" {
		if err := s.Save(narrative); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// Changed reports whether two narratives differ beyond cosmetic rewording.
// Gaining or losing a narrative entirely is always a change.
func Changed(old, new string) bool {
	if old == "" || new == "" {
		return old != new
	}
	return SimilarityRatio(old, new) < changeThreshold
}

// SimilarityRatio computes a token-bag similarity in [0, 1]: twice the
// number of shared word occurrences over the total word count of both
// texts. Case and punctuation boundaries are ignored.
func SimilarityRatio(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(ta))
	for _, tok := range ta {
		counts[tok]++
	}

	shared := 0
	for _, tok := range tb {
		if counts[tok] > 0 {
			counts[tok]--
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}
