package testbed

import (
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/automata/engine/math"
	"github.com/spaghettifunk/automata/engine/renderer/metadata"
)

// Rule is a 3D life rule over the 26 cell Moore neighbourhood.
type Rule struct {
	BirthMin, BirthMax       uint8
	SurvivalMin, SurvivalMax uint8
}

// ParseRule reads the four digit form, e.g. "5766".
func ParseRule(s string) (Rule, error) {
	if len(s) != 4 {
		return Rule{}, errors.Newf("rule %q must have four digits", s)
	}
	var d [4]uint8
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return Rule{}, errors.Newf("rule %q must have four digits", s)
		}
		d[i] = s[i] - '0'
	}
	r := Rule{BirthMin: d[0], BirthMax: d[1], SurvivalMin: d[2], SurvivalMax: d[3]}
	if r.BirthMin > r.BirthMax || r.SurvivalMin > r.SurvivalMax {
		return Rule{}, errors.Newf("rule %q has an empty range", s)
	}
	return r, nil
}

func (r Rule) Next(alive bool, neighbours uint8) bool {
	if alive {
		return neighbours >= r.SurvivalMin && neighbours <= r.SurvivalMax
	}
	return neighbours >= r.BirthMin && neighbours <= r.BirthMax
}

// Grid is a cubic toroidal grid of cells.
type Grid struct {
	size    int
	rule    Rule
	cells   []bool
	scratch []bool
	steps   uint64
}

func NewGrid(size int, rule Rule) *Grid {
	return &Grid{
		size:    size,
		rule:    rule,
		cells:   make([]bool, size*size*size),
		scratch: make([]bool, size*size*size),
	}
}

func (g *Grid) Size() int { return g.size }

func (g *Grid) Steps() uint64 { return g.steps }

func (g *Grid) index(x, y, z int) int {
	return (z*g.size+y)*g.size + x
}

func (g *Grid) Set(x, y, z int, alive bool) {
	g.cells[g.index(x, y, z)] = alive
}

func (g *Grid) Alive(x, y, z int) bool {
	return g.cells[g.index(x, y, z)]
}

// Neighbours counts the live cells around (x, y, z), wrapping at the edges.
func (g *Grid) Neighbours(x, y, z int) uint8 {
	var n uint8
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				if g.cells[g.index(math.Wrap(x+dx, g.size), math.Wrap(y+dy, g.size), math.Wrap(z+dz, g.size))] {
					n++
				}
			}
		}
	}
	return n
}

// Seed clears the grid and fills the central half with the given density.
func (g *Grid) Seed(rng *rand.Rand, density float64) {
	for i := range g.cells {
		g.cells[i] = false
	}
	lo, hi := g.size/4, g.size-g.size/4
	for z := lo; z < hi; z++ {
		for y := lo; y < hi; y++ {
			for x := lo; x < hi; x++ {
				g.Set(x, y, z, rng.Float64() < density)
			}
		}
	}
	g.steps = 0
}

func (g *Grid) Step() {
	for z := 0; z < g.size; z++ {
		for y := 0; y < g.size; y++ {
			for x := 0; x < g.size; x++ {
				i := g.index(x, y, z)
				g.scratch[i] = g.rule.Next(g.cells[i], g.Neighbours(x, y, z))
			}
		}
	}
	g.cells, g.scratch = g.scratch, g.cells
	g.steps++
}

func (g *Grid) Population() int {
	n := 0
	for _, c := range g.cells {
		if c {
			n++
		}
	}
	return n
}

// Instances appends one voxel per live cell, centred around the origin and
// coloured by height.
func (g *Grid) Instances(dst []metadata.VoxelInstance) []metadata.VoxelInstance {
	half := float32(g.size-1) / 2
	for z := 0; z < g.size; z++ {
		for y := 0; y < g.size; y++ {
			for x := 0; x < g.size; x++ {
				if !g.Alive(x, y, z) {
					continue
				}
				t := float32(y) / float32(g.size)
				dst = append(dst, metadata.VoxelInstance{
					Position: math.NewVec3(float32(x)-half, float32(y)-half, float32(z)-half),
					Colour:   math.NewVec4(0.2+0.8*t, 0.4, 1.0-0.8*t, 1.0),
				})
			}
		}
	}
	return dst
}
