package result_capper

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func docOfSize(payload int) bson.M {
	return bson.M{"v": strings.Repeat("a", payload)}
}

func TestCapper_UnderBudgetUnchanged(t *testing.T) {
	capper := NewCapper(logrus.New(), Config{MaxBytes: 4096})

	items := []bson.M{docOfSize(100), docOfSize(100)}
	result := capper.CapResultSize(items)

	assert.False(t, result.Truncated)
	assert.Len(t, result.Result, 2)
	assert.Empty(t, result.Warning)
}

func TestCapper_OverBudgetKeepsPrefix(t *testing.T) {
	capper := NewCapper(logrus.New(), Config{MaxBytes: 500})

	items := []bson.M{docOfSize(150), docOfSize(150), docOfSize(150), docOfSize(150)}
	result := capper.CapResultSize(items)

	require.True(t, result.Truncated)
	assert.Less(t, len(result.Result), 4)
	assert.NotEmpty(t, result.Result)
	assert.Contains(t, result.Warning, "500")
	// Kept items are the leading ones.
	assert.Equal(t, items[0], result.Result[0])
}

func TestCapper_SingleOversizedItemKept(t *testing.T) {
	capper := NewCapper(logrus.New(), Config{MaxBytes: 64})

	items := []bson.M{docOfSize(1000)}
	result := capper.CapResultSize(items)

	require.True(t, result.Truncated)
	require.Len(t, result.Result, 1)
	assert.Equal(t, items[0], result.Result[0])
}

func TestCapper_MeasuresEncodedBytes(t *testing.T) {
	// Multi-byte runes must count by encoded length, not rune count.
	ascii := encodedSize(bson.M{"v": strings.Repeat("a", 10)})
	multi := encodedSize(bson.M{"v": strings.Repeat("é", 10)})
	assert.Greater(t, multi, ascii)
}

func TestCapper_EmptyInput(t *testing.T) {
	capper := NewCapper(logrus.New(), Config{})

	result := capper.CapResultSize(nil)
	assert.False(t, result.Truncated)
	assert.Empty(t, result.Result)
}
