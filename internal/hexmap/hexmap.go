// Package hexmap provides tile coordinates and the distance/path oracle for
// the hex-tile world map. The registries consume the oracle as a pure
// function; the default Grid implementation covers a bounded axial map.
package hexmap

// TileCoord is an axial hex coordinate.
type TileCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// Oracle answers distance and reachability questions between tiles.
type Oracle interface {
	Distance(a, b TileCoord) int
	PathExists(a, b TileCoord) bool
}

// Grid is the default oracle: cube distance on an unobstructed hex map of
// the given radius around the origin. A path exists when both endpoints lie
// on the map.
type Grid struct {
	Radius int
}

// NewGrid returns a grid oracle with the given map radius.
func NewGrid(radius int) *Grid {
	if radius <= 0 {
		radius = 64
	}
	return &Grid{Radius: radius}
}

// Distance returns the hex distance between two axial coordinates.
func (g *Grid) Distance(a, b TileCoord) int {
	dq := a.Q - b.Q
	dr := a.R - b.R
	ds := -dq - dr
	return (abs(dq) + abs(dr) + abs(ds)) / 2
}

// PathExists reports whether both tiles are on the map.
func (g *Grid) PathExists(a, b TileCoord) bool {
	return g.onMap(a) && g.onMap(b)
}

func (g *Grid) onMap(c TileCoord) bool {
	return g.Distance(TileCoord{}, c) <= g.Radius
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
