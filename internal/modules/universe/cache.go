package universe

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// cachedUniverse is the on-disk shape of the last-known universe.
type cachedUniverse struct {
	Symbols []string  `msgpack:"symbols"`
	SavedAt time.Time `msgpack:"saved_at"`
}

// Cache persists the last successfully built universe so a failed scan can
// fall back to it. Written whenever a fresh scan succeeds, read only when a
// fresh scan fails.
type Cache struct {
	path string
	log  zerolog.Logger
}

// NewCache creates a universe cache stored at the given file path.
func NewCache(path string, log zerolog.Logger) *Cache {
	return &Cache{
		path: path,
		log:  log.With().Str("service", "universe_cache").Logger(),
	}
}

// Save writes the universe atomically (temp file + rename).
func (c *Cache) Save(symbols []string) error {
	data, err := msgpack.Marshal(cachedUniverse{
		Symbols: symbols,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode universe cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write universe cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace universe cache: %w", err)
	}

	c.log.Debug().Int("size", len(symbols)).Msg("Universe cache saved")
	return nil
}

// Load returns the cached universe and its age. A missing, empty or corrupt
// cache file is treated as "no cache" (first run), never as an error.
func (c *Cache) Load() ([]string, time.Time) {
	data, err := os.ReadFile(c.path)
	if err != nil || len(data) == 0 {
		return nil, time.Time{}
	}

	var cached cachedUniverse
	if err := msgpack.Unmarshal(data, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Universe cache unreadable, treating as missing")
		return nil, time.Time{}
	}

	return cached.Symbols, cached.SavedAt
}
