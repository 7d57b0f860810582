package services

import (
	"go-aura/internal/assets/models"
)

// Chain classification states used while validating parent chains.
const (
	chainUnknown = iota
	chainVisiting
	chainAnchored
	chainCycle
)

// TreeBuilder turns a flat asset record list into an ownership forest. It
// is pure and synchronous; location resolution happens elsewhere.
type TreeBuilder struct{}

// NewTreeBuilder creates a tree builder.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{}
}

// Build constructs the ownership forest from records. Every input record
// appears exactly once in the output: either as a root (its location id is
// not another record's item id) or as a child of the record it points to.
// Ownership cycles, which the game's data model should never produce, are
// broken defensively: each cycle member is demoted to a root marked
// location-unknown, and records pointing into the cycle attach under the
// demoted roots normally. Child order is input order.
func (b *TreeBuilder) Build(records []models.AssetRecord) []*models.AssetTreeNode {
	if len(records) == 0 {
		return nil
	}

	index := make(map[int64]*models.AssetRecord, len(records))
	for i := range records {
		index[records[i].ItemID] = &records[i]
	}

	states := make(map[int64]int, len(records))
	for i := range records {
		b.classifyChain(records[i].ItemID, index, states)
	}

	nodes := make(map[int64]*models.AssetTreeNode, len(records))
	for i := range records {
		nodes[records[i].ItemID] = &models.AssetTreeNode{AssetRecord: records[i]}
	}

	var roots []*models.AssetTreeNode
	for i := range records {
		record := &records[i]
		node := nodes[record.ItemID]

		if states[record.ItemID] == chainCycle {
			node.LocationUnknown = true
			roots = append(roots, node)
			continue
		}

		if parent, ok := nodes[record.LocationID]; ok {
			parent.Items = append(parent.Items, node)
			continue
		}
		roots = append(roots, node)
	}

	return roots
}

// classifyChain walks the parent chain from itemID, marking every visited
// record as anchored (the chain reaches a record whose location id is not
// an item id) or as a cycle member. Results are memoized in states so the
// whole pass stays O(n).
func (b *TreeBuilder) classifyChain(itemID int64, index map[int64]*models.AssetRecord, states map[int64]int) {
	if states[itemID] != chainUnknown {
		return
	}

	var path []int64
	current := itemID

	for {
		states[current] = chainVisiting
		path = append(path, current)

		record := index[current]
		parent, ok := index[record.LocationID]
		if !ok {
			// Chain leaves the record set: everything on the path
			// anchors at a genuine root
			b.markPath(path, states, chainAnchored)
			return
		}

		switch states[parent.ItemID] {
		case chainAnchored, chainCycle:
			// Parent already classified; either way the path below it
			// hangs off an established root
			b.markPath(path, states, chainAnchored)
			return
		case chainVisiting:
			// Revisiting a record on the current path: everything from
			// that record onward is a cycle, everything before it merely
			// points into one and stays attached
			cycleStart := 0
			for i, id := range path {
				if id == parent.ItemID {
					cycleStart = i
					break
				}
			}
			b.markPath(path[:cycleStart], states, chainAnchored)
			b.markPath(path[cycleStart:], states, chainCycle)
			return
		}

		current = parent.ItemID
	}
}

func (b *TreeBuilder) markPath(path []int64, states map[int64]int, state int) {
	for _, id := range path {
		states[id] = state
	}
}
