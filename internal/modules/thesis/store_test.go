package thesis

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(filepath.Join(t.TempDir(), "thesis.txt"), zerolog.Nop())
}

func TestStore_FirstRunLoadsEmpty(t *testing.T) {
	s := newTestStore(t)

	narrative, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, narrative)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("concentrate on oversold biotech names"))

	narrative, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "concentrate on oversold biotech names", narrative)
}

func TestStore_FirstUpdateIsAChange(t *testing.T) {
	s := newTestStore(t)

	changed, err := s.Update("initial thesis about micro-cap momentum")
	require.NoError(t, err)
	assert.True(t, changed)

	narrative, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "initial thesis about micro-cap momentum", narrative)
}

func TestStore_CosmeticRewordIsNotAChange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("hold the current biotech positions and wait for catalysts this quarter"))

	changed, err := s.Update("hold the current biotech positions and wait for catalysts next quarter")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStore_PivotIsAChange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("hold the current biotech positions and wait for catalysts"))

	changed, err := s.Update("rotate everything into industrial shipping names immediately")
	require.NoError(t, err)
	assert.True(t, changed)

	narrative, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "rotate everything into industrial shipping names immediately", narrative)
}

func TestStore_EmptyNarrativeKeepsPrevious(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("previous thesis"))

	changed, err := s.Update("")
	require.NoError(t, err)
	assert.False(t, changed)

	narrative, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "previous thesis", narrative)
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, SimilarityRatio("same words here", "same words here"))
	assert.Equal(t, 0.0, SimilarityRatio("alpha bravo", "charlie delta"))
	assert.Equal(t, 1.0, SimilarityRatio("", ""))
	assert.Equal(t, 0.0, SimilarityRatio("something", ""))

	// Word order does not matter, punctuation and case are ignored
	assert.Equal(t, 1.0, SimilarityRatio("Buy, the DIP!", "the dip buy"))
}

func TestChanged_Threshold(t *testing.T) {
	base := "one two three four five six seven eight nine ten"

	assert.False(t, Changed(base, "one two three four five six seven eight nine eleven"))
	assert.True(t, Changed(base, "one two entirely different words appear in this text now"))

	// Gaining or losing the narrative entirely is a change
	assert.True(t, Changed("", base))
	assert.True(t, Changed(base, ""))
	assert.False(t, Changed("", ""))
}
