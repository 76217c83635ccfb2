package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankTable_LevelToRank(t *testing.T) {
	table, err := NewRankTable(
		RankThreshold{1, "Bronze"},
		RankThreshold{5, "Iron"},
		RankThreshold{10, "Steel"},
		RankThreshold{99, "Max"},
	)
	require.NoError(t, err)

	tests := []struct {
		level int64
		want  string
	}{
		{-7, "Bronze"},
		{0, "Bronze"},
		{1, "Bronze"},
		{4, "Bronze"},
		{5, "Iron"},
		{9, "Iron"},
		{10, "Steel"},
		{98, "Steel"},
		{99, "Max"},
		{1_000_000, "Max"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.LevelToRank(tt.level), "level %d", tt.level)
	}
}

func TestRankTable_Monotonic(t *testing.T) {
	prev := int64(0)
	for level := int64(-5); level <= 150; level++ {
		th, ok := DefaultRanks.Threshold(DefaultRanks.LevelToRank(level))
		require.True(t, ok)
		require.GreaterOrEqual(t, th, prev, "level %d", level)
		prev = th
	}
}

func TestRankTable_FallbackWithoutLevelOne(t *testing.T) {
	table, err := NewRankTable(RankThreshold{5, "Iron"}, RankThreshold{3, "Tin"})
	require.NoError(t, err)
	assert.Equal(t, "Tin", table.LevelToRank(1))
}

func TestNewRankTable_Validation(t *testing.T) {
	_, err := NewRankTable()
	assert.Error(t, err)
	_, err = NewRankTable(RankThreshold{1, "A"}, RankThreshold{1, "B"})
	assert.Error(t, err)
	_, err = NewRankTable(RankThreshold{1, "A"}, RankThreshold{2, "A"})
	assert.Error(t, err)
	_, err = NewRankTable(RankThreshold{1, ""})
	assert.Error(t, err)
}

func TestDefaultRanks(t *testing.T) {
	assert.Equal(t, "Bronze", LevelToRank(0))
	assert.Equal(t, "Iron", LevelToRank(5))
	assert.Equal(t, "Max", LevelToRank(99))
	assert.Equal(t, []string{"Bronze", "Iron", "Steel", "Mithril", "Adamant", "Rune", "Dragon", "Demon", "God", "Max"}, DefaultRanks.Names())
}
