package storagedriver

// WellKnownCollections maps the thirteen pre-seeded collection names to
// their fixed ids (spec §3). Ids 1-99 are reserved for well-knowns;
// dynamically created collections start at 100 (spec §4.5).
var WellKnownCollections = map[string]int{
	"clients":         1,
	"crypto":          2,
	"forms":           3,
	"history":         4,
	"keys":            5,
	"meta":            6,
	"bookmarks":       7,
	"prefs":           8,
	"tabs":            9,
	"passwords":       10,
	"addons":          11,
	"addresses":       12,
	"creditcards":     13,
}

// FirstDynamicCollectionID is the lowest id a newly created collection may
// be assigned.
const FirstDynamicCollectionID = 100
