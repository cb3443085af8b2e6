package shardstate

import (
	"sort"

	"github.com/segfaultgame/engine/internal/geometry"
)

// AdjacencyCluster returns origin plus every live process transitively
// adjacent to it (Chebyshev distance 1, legal step) as of the shard's
// current state. Shared by the perception projection (view union) and
// the supervisor's SAY delivery (who's in earshot). The returned order is
// deterministic (origin first, then breadth-first by ascending process
// ID at each hop) even though s.Processes is a map with randomized
// iteration order, since this result feeds the bit-exact replay snapshot's
// SayRecord.Recipients.
func AdjacencyCluster(s *Shard, origin *Process) []*Process {
	visited := map[string]bool{origin.ID: true}
	queue := []*Process{origin}
	out := []*Process{origin}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var candidates []*Process
		for _, p := range s.Processes {
			if !p.Alive || visited[p.ID] {
				continue
			}
			if geometry.Adjacent(s.Grid, s.Walls, cur.Pos, p.Pos) {
				candidates = append(candidates, p)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].ID < candidates[j].ID
		})

		for _, p := range candidates {
			visited[p.ID] = true
			out = append(out, p)
			queue = append(queue, p)
		}
	}
	return out
}
