// Package world provides the arena grid: terrain assignment, bounds,
// and distance checks. Terrain is derived deterministically from
// layered simplex noise so every node of the system agrees on the map
// without shipping tile data around.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/arena/internal/game"
)

// Noise thresholds for terrain assignment. Elevation above the
// mountain level wins; high rainfall over low ground carves rivers.
const (
	mountainLevel = 0.72
	riverLevel    = 0.80
)

// Move cooldown multipliers per terrain. Mountain doubles the base
// duration; river halves it (the ledger applies the drowning chance).
const (
	MultiplierPlain    = 1.0
	MultiplierMountain = 2.0
	MultiplierRiver    = 0.5
)

// Grid is the arena map. Cells are addressed by (x, y) with the origin
// at the top-left corner; Diameter bounds both axes.
type Grid struct {
	Diameter int

	elev opensimplex.Noise
	rain opensimplex.Noise
}

// NewGrid creates a grid of the given diameter seeded deterministically.
func NewGrid(diameter int, seed int64) *Grid {
	return &Grid{
		Diameter: diameter,
		elev:     opensimplex.NewNormalized(seed),
		rain:     opensimplex.NewNormalized(seed + 1),
	}
}

// InBounds reports whether (x, y) lies on the map.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.Diameter && y >= 0 && y < g.Diameter
}

// TerrainAt returns the terrain of the cell at (x, y). Out-of-bounds
// cells report plain; callers must bounds-check first.
func (g *Grid) TerrainAt(x, y int) game.Terrain {
	// Sample at a coarse scale so features span multiple cells.
	fx := float64(x) * 0.15
	fy := float64(y) * 0.15

	elevation := g.elev.Eval2(fx, fy)
	if elevation >= mountainLevel {
		return game.TerrainMountain
	}
	if g.rain.Eval2(fx, fy) >= riverLevel {
		return game.TerrainRiver
	}
	return game.TerrainPlain
}

// MoveMultiplier returns the cooldown scale factor for a terrain kind.
func MoveMultiplier(t game.Terrain) float64 {
	switch t {
	case game.TerrainMountain:
		return MultiplierMountain
	case game.TerrainRiver:
		return MultiplierRiver
	default:
		return MultiplierPlain
	}
}

// Distance returns the Euclidean distance between two cells.
func Distance(x1, y1, x2, y2 int) float64 {
	dx := float64(x1 - x2)
	dy := float64(y1 - y2)
	return math.Sqrt(dx*dx + dy*dy)
}
