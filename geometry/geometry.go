// geometry/geometry.go
package geometry

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Position is a cell on the board.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Move returns the neighbouring cell in direction d.
func (p Position) Move(d Direction) Position {
	switch d {
	case Up:
		return Position{X: p.X, Y: p.Y - 1}
	case Down:
		return Position{X: p.X, Y: p.Y + 1}
	case Left:
		return Position{X: p.X - 1, Y: p.Y}
	default:
		return Position{X: p.X + 1, Y: p.Y}
	}
}

// InBounds reports whether p lies in [0,Width) x [0,Height).
func (p Position) InBounds(size BoardSize) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < size.Width && p.Y < size.Height
}

// BoardSize 棋盘尺寸
type BoardSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultBoardSize is the board used when a caller does not pick one.
var DefaultBoardSize = BoardSize{Width: 96, Height: 24}

func (s BoardSize) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether no size has been set.
func (s BoardSize) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// Direction 移动方向
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

var directionNames = [...]string{"up", "right", "down", "left"}

// LeftOf rotates d 90 degrees counter-clockwise.
func (d Direction) LeftOf() Direction {
	return (d.normalize() + 3) % 4
}

// RightOf rotates d 90 degrees clockwise.
func (d Direction) RightOf() Direction {
	return (d.normalize() + 1) % 4
}

// OppositeOf returns the reverse of d.
func (d Direction) OppositeOf() Direction {
	return (d.normalize() + 2) % 4
}

// normalize folds any out-of-range value back onto the four directions.
func (d Direction) normalize() Direction {
	return ((d % 4) + 4) % 4
}

func (d Direction) String() string {
	return directionNames[d.normalize()]
}

func (d Direction) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range directionNames {
		if n == name {
			*d = Direction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown direction %q", name)
}

// Rand is the randomness the simulation draws from.
type Rand interface {
	Intn(n int) int
}

// lockedRand makes a math/rand source safe for concurrent use.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a goroutine-safe Rand. A zero seed picks one from the clock.
func NewRand(seed int64) Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// RandomDirection picks one of the four directions uniformly.
func RandomDirection(rng Rand) Direction {
	return Direction(rng.Intn(4))
}

// OnScreen picks a cell at least border cells away from every edge. When the
// board is too small for the border the whole axis is used instead.
func OnScreen(rng Rand, border int, size BoardSize) Position {
	return Position{
		X: between(rng, border, size.Width-border, size.Width),
		Y: between(rng, border, size.Height-border, size.Height),
	}
}

func between(rng Rand, lo, hi, n int) int {
	if hi <= lo {
		lo, hi = 0, n
	}
	if hi <= lo {
		return 0
	}
	return lo + rng.Intn(hi-lo)
}
