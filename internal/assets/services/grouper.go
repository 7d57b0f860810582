package services

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"go-aura/internal/assets/models"
)

// slotFamilies maps a numbered-slot prefix to its collapsed family name.
var slotFamilies = []struct {
	prefix string
	family string
}{
	{"HiSlot", models.FlagFamilyHiSlots},
	{"MedSlot", models.FlagFamilyMedSlots},
	{"LoSlot", models.FlagFamilyLoSlots},
	{"RigSlot", models.FlagFamilyRigSlots},
	{"SubSystemSlot", models.FlagFamilySubSystemSlots},
	{"FighterTube", models.FlagFamilyFighterTubes},
}

// flagPriority orders the display groups. Lower sorts first. Flags absent
// from the table keep their first-encountered order after the listed ones.
var flagPriority = map[string]int{
	models.FlagFamilyHiSlots:        0,
	models.FlagFamilyMedSlots:       1,
	models.FlagFamilyLoSlots:        2,
	models.FlagFamilyRigSlots:       3,
	models.FlagFamilySubSystemSlots: 4,
	models.FlagDroneBay:             10,
	models.FlagFighterBay:           11,
	models.FlagFamilyFighterTubes:   12,
	models.FlagSpecializedFuel:      20,
	models.FlagSpecializedOre:       21,
	models.FlagCargo:                30,
	models.FlagHangar:               31,
	models.FlagShipHangar:           32,
	models.FlagFleetHangar:          33,
	"CorpSAG1":                      40,
	"CorpSAG2":                      41,
	"CorpSAG3":                      42,
	"CorpSAG4":                      43,
	"CorpSAG5":                      44,
	"CorpSAG6":                      45,
	"CorpSAG7":                      46,
	models.FlagDeliveries:           50,
}

const unprioritized = 1000

// DisplayGrouper flattens a container node's immediate children into
// flag-keyed groups with stacking and deterministic ordering. It is pure
// and carries no state.
type DisplayGrouper struct{}

// NewDisplayGrouper creates a display grouper.
func NewDisplayGrouper() *DisplayGrouper {
	return &DisplayGrouper{}
}

// Group partitions node's immediate children by normalized location flag,
// merges stackable items within each group, sorts items by display name
// then item id, and orders groups by the fixed priority table.
func (g *DisplayGrouper) Group(node *models.AssetTreeNode) []models.FlagGroup {
	if node == nil || len(node.Items) == 0 {
		return nil
	}

	grouped := make(map[string][]*models.AssetTreeNode)
	var flagOrder []string

	for _, child := range node.Items {
		flag := NormalizeFlag(child.LocationFlag)
		if _, seen := grouped[flag]; !seen {
			flagOrder = append(flagOrder, flag)
		}
		grouped[flag] = append(grouped[flag], child)
	}

	groups := make([]models.FlagGroup, 0, len(flagOrder))
	for _, flag := range flagOrder {
		items := g.mergeStacks(grouped[flag])
		sort.SliceStable(items, func(i, j int) bool {
			ni, nj := displayName(items[i]), displayName(items[j])
			if ni != nj {
				return ni < nj
			}
			return items[i].ItemID < items[j].ItemID
		})
		groups = append(groups, models.FlagGroup{Flag: flag, Items: items})
	}

	// firstSeen breaks ties between flags sharing a priority bucket, which
	// keeps unlisted flags in encounter order
	firstSeen := make(map[string]int, len(flagOrder))
	for i, flag := range flagOrder {
		firstSeen[flag] = i
	}
	sort.SliceStable(groups, func(i, j int) bool {
		pi, pj := groupPriority(groups[i].Flag), groupPriority(groups[j].Flag)
		if pi != pj {
			return pi < pj
		}
		return firstSeen[groups[i].Flag] < firstSeen[groups[j].Flag]
	})

	return groups
}

// NormalizeFlag collapses numbered slot flags (HiSlot0..7, RigSlot2, ...)
// to their family name. Every other flag passes through unchanged.
func NormalizeFlag(flag string) string {
	for _, f := range slotFamilies {
		if rest, ok := strings.CutPrefix(flag, f.prefix); ok && isDigits(rest) {
			return f.family
		}
	}
	return flag
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// mergeStacks combines merge-eligible items sharing a (type id, name) key
// into one stack. Containers are never merged, since stacking them would
// lose their distinct subtrees. Blueprint copy status does not participate
// in the key, matching the game client's stacking behavior.
func (g *DisplayGrouper) mergeStacks(items []*models.AssetTreeNode) []*models.AssetTreeNode {
	type mergeKey struct {
		typeID int32
		name   string
	}

	buckets := make(map[mergeKey][]*models.AssetTreeNode)
	var order []*models.AssetTreeNode

	for _, item := range items {
		if item.IsContainer() {
			order = append(order, item)
			continue
		}
		key := mergeKey{typeID: item.TypeID, name: item.Name}
		if _, seen := buckets[key]; !seen {
			// First occurrence of a key fixes the stack's position
			order = append(order, item)
		}
		buckets[key] = append(buckets[key], item)
	}

	result := make([]*models.AssetTreeNode, 0, len(order))
	for _, item := range order {
		if item.IsContainer() {
			result = append(result, item)
			continue
		}
		key := mergeKey{typeID: item.TypeID, name: item.Name}
		bucket := buckets[key]

		total := lo.SumBy(bucket, func(n *models.AssetTreeNode) int32 { return n.Quantity })
		if len(bucket) == 1 && total <= 1 {
			result = append(result, bucket[0])
			continue
		}

		merged := *bucket[0]
		merged.Quantity = total
		merged.IsSingleton = false
		result = append(result, &merged)
	}

	return result
}

func groupPriority(flag string) int {
	if p, ok := flagPriority[flag]; ok {
		return p
	}
	return unprioritized
}

func displayName(n *models.AssetTreeNode) string {
	if n.Name != "" {
		return n.Name
	}
	return n.TypeName
}
