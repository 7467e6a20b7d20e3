package storagedriver

import "regexp"

// collectionNameRE matches spec §3: a short printable string of letters,
// digits, dots, underscores, and hyphens.
var collectionNameRE = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// bsoIDRE matches spec §3: printable ASCII (space through tilde) minus
// control characters, 1-64 bytes.
var bsoIDRE = regexp.MustCompile(`^[ -~]{1,64}$`)

// CollectionNameOK reports whether name is a legal collection name.
func CollectionNameOK(name string) bool {
	return collectionNameRE.MatchString(name)
}

// BSOIDOK reports whether id is a legal bso_id.
func BSOIDOK(id string) bool {
	return bsoIDRE.MatchString(id)
}
