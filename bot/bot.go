// Package bot picks attack cells for a computer opponent. It is pure: it
// reads an attack history and returns a cell, sharing no state with the
// room or game machinery. Callers feed its choice through the same attack
// path a human player uses.
package bot

import "planewars/models"

// NextAttack chooses the bot's next shot. Cells adjacent to earlier body
// hits are hunted first; otherwise it sweeps unattacked cells on a
// checkerboard parity, falling back to any free cell. Returns false when
// the board is exhausted.
func NextAttack(history []models.AttackRecord) (models.Cell, bool) {
	attacked := make(map[models.Cell]bool, len(history))
	for i := range history {
		attacked[models.Cell{X: history[i].X, Y: history[i].Y}] = true
	}

	// Hunt around known body hits.
	for i := range history {
		if history[i].Outcome != models.OutcomeHitBody {
			continue
		}
		hit := models.Cell{X: history[i].X, Y: history[i].Y}
		for _, n := range neighbors(hit) {
			if n.InBounds() && !attacked[n] {
				return n, true
			}
		}
	}

	// Parity sweep: a plane always covers a cell of either parity, so
	// checking half the board finds it.
	for y := 0; y < models.BoardSize; y++ {
		for x := 0; x < models.BoardSize; x++ {
			cell := models.Cell{X: x, Y: y}
			if (x+y)%2 == 0 && !attacked[cell] {
				return cell, true
			}
		}
	}

	for y := 0; y < models.BoardSize; y++ {
		for x := 0; x < models.BoardSize; x++ {
			cell := models.Cell{X: x, Y: y}
			if !attacked[cell] {
				return cell, true
			}
		}
	}

	return models.Cell{}, false
}

func neighbors(c models.Cell) [4]models.Cell {
	return [4]models.Cell{
		{X: c.X - 1, Y: c.Y},
		{X: c.X + 1, Y: c.Y},
		{X: c.X, Y: c.Y - 1},
		{X: c.X, Y: c.Y + 1},
	}
}
