package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planewars/models"
)

func TestNextAttackEmptyHistoryUsesParity(t *testing.T) {
	cell, ok := NextAttack(nil)
	require.True(t, ok)
	assert.True(t, cell.InBounds())
	assert.Equal(t, 0, (cell.X+cell.Y)%2)
}

func TestNextAttackHuntsAroundBodyHit(t *testing.T) {
	history := []models.AttackRecord{
		{X: 4, Y: 4, Outcome: models.OutcomeHitBody},
	}
	cell, ok := NextAttack(history)
	require.True(t, ok)

	adjacent := cell == models.Cell{X: 3, Y: 4} ||
		cell == models.Cell{X: 5, Y: 4} ||
		cell == models.Cell{X: 4, Y: 3} ||
		cell == models.Cell{X: 4, Y: 5}
	assert.True(t, adjacent, "expected a neighbor of (4,4), got %+v", cell)
}

func TestNextAttackSkipsAttackedNeighbors(t *testing.T) {
	history := []models.AttackRecord{
		{X: 0, Y: 0, Outcome: models.OutcomeHitBody},
		{X: 1, Y: 0, Outcome: models.OutcomeMiss},
	}
	cell, ok := NextAttack(history)
	require.True(t, ok)
	assert.Equal(t, models.Cell{X: 0, Y: 1}, cell)
}

func TestNextAttackCornerHitStaysInBounds(t *testing.T) {
	history := []models.AttackRecord{
		{X: 0, Y: 0, Outcome: models.OutcomeHitBody},
	}
	cell, ok := NextAttack(history)
	require.True(t, ok)
	assert.True(t, cell.InBounds())
}

func TestNextAttackNeverRepeatsAndExhaustsBoard(t *testing.T) {
	var history []models.AttackRecord
	seen := make(map[models.Cell]bool)

	for i := 0; i < models.BoardSize*models.BoardSize; i++ {
		cell, ok := NextAttack(history)
		require.True(t, ok, "board should not be exhausted after %d shots", i)
		require.False(t, seen[cell], "cell %+v attacked twice", cell)
		require.True(t, cell.InBounds())
		seen[cell] = true
		history = append(history, models.AttackRecord{X: cell.X, Y: cell.Y, Outcome: models.OutcomeMiss})
	}

	_, ok := NextAttack(history)
	assert.False(t, ok)
}
