// Package hex provides axial coordinates for the tile grid.
//
// Offsets stored in tile configuration (targets, links) use the same type;
// rotating an offset turns it around the origin in 60 degree steps.
package hex

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord is an axial hex coordinate. The cube coordinate s = -q - r.
type Coord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

func (c Coord) S() int { return -c.Q - c.R }

func (c Coord) Add(o Coord) Coord { return Coord{Q: c.Q + o.Q, R: c.R + o.R} }

func (c Coord) Sub(o Coord) Coord { return Coord{Q: c.Q - o.Q, R: c.R - o.R} }

func (c Coord) IsZero() bool { return c.Q == 0 && c.R == 0 }

// RotateRight turns the offset 60 degrees clockwise around the origin.
func (c Coord) RotateRight() Coord { return Coord{Q: -c.R, R: c.Q + c.R} }

// RotateLeft is the inverse of RotateRight.
func (c Coord) RotateLeft() Coord { return Coord{Q: c.Q + c.R, R: -c.Q} }

func (c Coord) String() string { return fmt.Sprintf("%d,%d", c.Q, c.R) }

// Directions lists the six unit offsets in clockwise order, so that
// Directions[i].RotateRight() == Directions[(i+1)%6].
var Directions = [6]Coord{
	{Q: 1, R: 0},
	{Q: 0, R: 1},
	{Q: -1, R: 1},
	{Q: -1, R: 0},
	{Q: 0, R: -1},
	{Q: 1, R: -1},
}

func (c Coord) Neighbors() [6]Coord {
	var out [6]Coord
	for i, d := range Directions {
		out[i] = c.Add(d)
	}
	return out
}

func Distance(a, b Coord) int {
	d := a.Sub(b)
	return max(abs(d.Q), abs(d.R), abs(d.S()))
}

// Less orders coordinates by (Q, R); used wherever iteration must be stable.
func Less(a, b Coord) bool {
	if a.Q != b.Q {
		return a.Q < b.Q
	}
	return a.R < b.R
}

// ParseCoord parses the "q,r" form produced by String.
func ParseCoord(s string) (Coord, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Coord{}, fmt.Errorf("bad coord %q", s)
	}
	q, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Coord{}, fmt.Errorf("bad coord %q: %w", s, err)
	}
	r, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Coord{}, fmt.Errorf("bad coord %q: %w", s, err)
	}
	return Coord{Q: q, R: r}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
