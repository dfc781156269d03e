package world

import (
	"fmt"

	"github.com/ember-project/ember/internal/protocol"
)

// walkOnCommandTrailer is the anti-cheat block the client appends to a
// walk sent together with an interaction.
const walkOnCommandTrailer = 14

// Coordinate bounds of the map.
const (
	maxCoordinate = 16383
	maxPlane      = 3
)

// Position is a tile in the world.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d, %d, %d", p.X, p.Y, p.Z)
}

// RegionX returns the x of the 8x8 chunk the tile is in.
func (p Position) RegionX() int { return p.X >> 3 }

// RegionY returns the y of the 8x8 chunk the tile is in.
func (p Position) RegionY() int { return p.Y >> 3 }

// Valid reports whether the position lies on the map.
func (p Position) Valid() bool {
	return p.X >= 0 && p.X <= maxCoordinate &&
		p.Y >= 0 && p.Y <= maxCoordinate &&
		p.Z >= 0 && p.Z <= maxPlane
}

// WalkRequest is a decoded walking packet.
type WalkRequest struct {
	Path []Position
	Run  bool
}

// DecodeWalk reads a walk packet (opcodes 248, 164 and 98). The first
// waypoint is absolute; every further waypoint is a signed delta from the
// waypoint before it.
func DecodeWalk(pkt *protocol.Packet) (*WalkRequest, error) {
	length := pkt.Length
	if pkt.Opcode == protocol.InWalkOnCommand {
		length -= walkOnCommandTrailer
	}
	if length < 5 {
		return nil, fmt.Errorf("walk packet too short: %d bytes", length)
	}
	steps := (length - 5) / 2

	in := pkt.Reader()
	firstX := in.UShort(protocol.A, protocol.Little)
	deltas := make([][2]int, steps)
	for i := range deltas {
		deltas[i][0] = in.Byte()
		deltas[i][1] = in.Byte()
	}
	firstY := in.UShort(protocol.Little)
	run := in.Byte(protocol.C) == 1
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("decode walk: %w", err)
	}

	path := make([]Position, 0, steps+1)
	cur := Position{X: firstX, Y: firstY}
	path = append(path, cur)
	for _, d := range deltas {
		cur = Position{X: cur.X + d[0], Y: cur.Y + d[1]}
		path = append(path, cur)
	}
	return &WalkRequest{Path: path, Run: run}, nil
}

// maxWalkQueue bounds the tiles queued by one walk request.
const maxWalkQueue = 50

// WalkQueue holds the tiles a player still has to step onto.
type WalkQueue struct {
	tiles   []Position
	runPath bool
}

// Reset forgets any queued walk.
func (q *WalkQueue) Reset() {
	q.tiles = q.tiles[:0]
	q.runPath = false
}

// Empty reports whether there is nothing left to walk.
func (q *WalkQueue) Empty() bool {
	return len(q.tiles) == 0
}

// Remaining returns the number of queued tiles.
func (q *WalkQueue) Remaining() int {
	return len(q.tiles)
}

// Set replaces the queue with the tiles from start through each waypoint
// in straight or diagonal lines.
func (q *WalkQueue) Set(start Position, req *WalkRequest) {
	q.Reset()
	q.runPath = req.Run
	cur := start
	for _, wp := range req.Path {
		wp.Z = start.Z
		for cur.X != wp.X || cur.Y != wp.Y {
			cur.X += sign(wp.X - cur.X)
			cur.Y += sign(wp.Y - cur.Y)
			q.tiles = append(q.tiles, cur)
			if len(q.tiles) >= maxWalkQueue {
				return
			}
		}
	}
}

// Next pops the next tile.
func (q *WalkQueue) Next() (Position, bool) {
	if len(q.tiles) == 0 {
		return Position{}, false
	}
	next := q.tiles[0]
	q.tiles = q.tiles[1:]
	return next, true
}

// RunPath reports whether the current walk was requested as a run.
func (q *WalkQueue) RunPath() bool {
	return q.runPath
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
