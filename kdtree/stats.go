package kdtree

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Stats summarizes the shape of a built tree.
type Stats struct {
	Triangles           int
	DegenerateTriangles int

	Nodes  int
	Leaves int

	MaxDepth int

	// The largest triangle count stored in a single node.
	MaxNodeTriangles int

	// Triangles kept in interior nodes because they straddle the split plane.
	StraddlingTriangles int

	// True if the tree was loaded from the cache.
	FromCache bool

	// Time spent loading or building the tree.
	BuildTime time.Duration
}

type walkItem struct {
	index NodeIndex
	depth int
}

// Walk the tree and collect stats.
func collectStats(triangles []Triangle, nodes []Node) Stats {
	stats := Stats{
		Triangles: len(triangles),
		Nodes:     len(nodes),
	}

	for i := range triangles {
		if triangles[i].IsDegenerate() {
			stats.DegenerateTriangles++
		}
	}

	if len(nodes) == 0 {
		return stats
	}

	stack := []walkItem{{0, 0}}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := &nodes[item.index]

		if item.depth > stats.MaxDepth {
			stats.MaxDepth = item.depth
		}
		if int(node.NumTriangles) > stats.MaxNodeTriangles {
			stats.MaxNodeTriangles = int(node.NumTriangles)
		}

		if node.IsLeaf() {
			stats.Leaves++
			continue
		}

		stats.StraddlingTriangles += int(node.NumTriangles)
		if node.Left != NoChild {
			stack = append(stack, walkItem{node.Left, item.depth + 1})
		}
		if node.Right != NoChild {
			stack = append(stack, walkItem{node.Right, item.depth + 1})
		}
	}

	return stats
}

// Build a tabular representation of the tree statistics.
func (s Stats) String() string {
	source := "built"
	if s.FromCache {
		source = "cache"
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Category", "Stat", "Value"})
	table.Append([]string{"Geometry", "Triangles", strconv.Itoa(s.Triangles)})
	table.Append([]string{"", "Degenerate", strconv.Itoa(s.DegenerateTriangles)})
	table.Append([]string{"", "Memory", fmtSize(s.Triangles * triangleRecordSize)})
	table.Append([]string{" ", " ", " "})
	table.Append([]string{"KD-tree", "Nodes", strconv.Itoa(s.Nodes)})
	table.Append([]string{"", "Leaves", strconv.Itoa(s.Leaves)})
	table.Append([]string{"", "Max depth", strconv.Itoa(s.MaxDepth)})
	table.Append([]string{"", "Max node triangles", strconv.Itoa(s.MaxNodeTriangles)})
	table.Append([]string{"", "Straddling triangles", strconv.Itoa(s.StraddlingTriangles)})
	table.Append([]string{"", "Memory", fmtSize(s.Nodes * nodeRecordSize)})
	table.SetFooter([]string{"Source: " + source, "Time", fmt.Sprintf("%d ms", s.BuildTime.Nanoseconds()/1e6)})

	table.Render()
	return buf.String()
}

// Format a byte count with the appropriate byte/kb/mb unit.
func fmtSize(totalBytes int) string {
	if totalBytes < 1e3 {
		return fmt.Sprintf("%3d bytes", totalBytes)
	} else if totalBytes < 1e6 {
		return fmt.Sprintf("%3.1f kb", float32(totalBytes)/1e3)
	}
	return fmt.Sprintf("%5.1f mb", float32(totalBytes)/1e6)
}
