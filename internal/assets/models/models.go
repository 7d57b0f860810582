// Package models defines the asset domain types shared by the assets
// services.
package models

// Location type classifications reported by ESI for asset records.
const (
	LocationTypeStation     = "station"
	LocationTypeStructure   = "structure"
	LocationTypeSolarSystem = "solar_system"
	LocationTypeOther       = "other"
)

// Well-known location flags. ESI emits many more; these are the ones the
// grouper assigns explicit priorities to.
const (
	FlagHangar          = "Hangar"
	FlagCargo           = "Cargo"
	FlagDroneBay        = "DroneBay"
	FlagFighterBay      = "FighterBay"
	FlagShipHangar      = "ShipHangar"
	FlagFleetHangar     = "FleetHangar"
	FlagDeliveries      = "Deliveries"
	FlagAssetSafety     = "AssetSafety"
	FlagUnlocked        = "Unlocked"
	FlagAutoFit         = "AutoFit"
	FlagSpecializedFuel = "SpecializedFuelBay"
	FlagSpecializedOre  = "SpecializedOreHold"
)

// Normalized slot families produced by collapsing numbered slot flags.
const (
	FlagFamilyHiSlots        = "HiSlots"
	FlagFamilyMedSlots       = "MedSlots"
	FlagFamilyLoSlots        = "LoSlots"
	FlagFamilyRigSlots       = "RigSlots"
	FlagFamilySubSystemSlots = "SubSystemSlots"
	FlagFamilyFighterTubes   = "FighterTubes"
)

// AssetRecord is one raw owned item as returned by ESI, before any tree
// structure is derived.
type AssetRecord struct {
	ItemID          int64
	TypeID          int32
	LocationID      int64
	LocationType    string
	LocationFlag    string
	Quantity        int32
	IsSingleton     bool
	IsBlueprintCopy *bool
	// Name is the player-assigned label, when one exists
	Name string
}

// LocationInfoDetail carries the resolved display fields for a root
// location. Security is truncated to one decimal by the presentation layer.
type LocationInfoDetail struct {
	DisplayName     string  `json:"display_name"`
	SolarSystemName string  `json:"solar_system_name"`
	RegionName      string  `json:"region_name"`
	Security        float64 `json:"security"`
}

// AssetTreeNode is one node in the resolved ownership forest. Roots carry
// resolved location fields; children inherit their position from the parent
// chain. Items is nil for leaves.
type AssetTreeNode struct {
	AssetRecord

	TypeName       string
	IconName       string
	SystemName     string
	RegionName     string
	SecurityStatus *float64
	// LocationUnknown marks synthetic roots whose location id resolved to
	// neither another item nor a known place
	LocationUnknown bool

	Items []*AssetTreeNode
}

// IsContainer reports whether the node owns other nodes.
func (n *AssetTreeNode) IsContainer() bool {
	return len(n.Items) > 0
}

// TotalCount returns the number of nodes in this subtree, itself included.
func (n *AssetTreeNode) TotalCount() int {
	count := 1
	for _, child := range n.Items {
		count += child.TotalCount()
	}
	return count
}

// ProgressState enumerates the phases reported during a fetch.
type ProgressState string

const (
	ProgressFetchingPage ProgressState = "fetching_page"
	ProgressBuildingTree ProgressState = "building_tree"
	ProgressComplete     ProgressState = "complete"
)

// Progress is one progress callback payload. Step and Total are meaningful
// for the page-fetching and tree-building phases.
type Progress struct {
	State ProgressState
	Step  int
	Total int
}

// ProgressFunc receives fetch progress updates. Implementations must be
// fast and must not block; they are invoked inline from the fetch path.
type ProgressFunc func(Progress)

// FlagGroup is one display group produced by the grouper: the normalized
// flag and the merged, sorted items under it.
type FlagGroup struct {
	Flag  string
	Items []*AssetTreeNode
}
