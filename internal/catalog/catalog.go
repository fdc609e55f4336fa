// Package catalog defines the Cedar-Sky object database contract used both
// for UI text-search queries and for computing in-field-of-view overlays.
// The database itself (schema, storage) is out of scope; only the query
// boundary is specified here.
package catalog

// Filter narrows a catalog query.
type Filter struct {
	MaxDistanceDeg   *float64
	MinElevationDeg  *float64
	FaintestMag      *float64
	CatalogFilter    []string
	TypeFilter       []string
	TextSearch       *string
	Ordering         string
	DecrowdDistancePx *float64
	Limit            *int
}

// SkyLocation is the center of a field-of-view query.
type SkyLocation struct {
	Ra, Dec, RollDeg, FovDeg float64
}

// LocationInfo carries the observer's position and time, needed for
// MinElevationDeg filtering.
type LocationInfo struct {
	LatDeg, LonDeg float64
}

// Entry is one matched catalog object. When a query set DecrowdDistancePx,
// Decrowded holds the fainter entries within that pixel radius that were
// excluded from the primary result in this entry's favor.
type Entry struct {
	Name       string
	Ra, Dec    float64
	Magnitude  float64
	ObjectType string
	Decrowded  []Entry
}

// Capability is the external catalog contract.
type Capability interface {
	// QueryCatalogEntries returns entries matching filter, optionally
	// restricted to a field of view (sky may be nil for a global text
	// search). TruncatedCount is how many additional matches exist beyond
	// Limit.
	QueryCatalogEntries(filter Filter, sky *SkyLocation, loc *LocationInfo) (entries []Entry, truncatedCount int, err error)
}
