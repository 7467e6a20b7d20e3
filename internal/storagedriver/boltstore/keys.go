package boltstore

// collMetaKey builds the collection_meta key for (user, collectionID).
func collMetaKey(user uint64, cid uint32) []byte {
	k := make([]byte, 12)
	copy(k[0:8], encodeUint64(user))
	copy(k[8:12], encodeUint32(cid))
	return k
}

// bsoPrefix builds the bso bucket key prefix for all rows of (user, cid).
func bsoPrefix(user uint64, cid uint32) []byte {
	k := make([]byte, 13)
	copy(k[0:8], encodeUint64(user))
	copy(k[8:12], encodeUint32(cid))
	k[12] = 0x00
	return k
}

// bsoKey builds the full bso bucket key for a single BSO.
func bsoKey(user uint64, cid uint32, id string) []byte {
	prefix := bsoPrefix(user, cid)
	return append(prefix, []byte(id)...)
}

// bsoIDFromKey recovers the bso_id suffix from a full bso key.
func bsoIDFromKey(key []byte) string {
	if len(key) <= 13 {
		return ""
	}
	return string(key[13:])
}

// batchKey builds the batches bucket key for (user, cid, batchID).
func batchKey(user uint64, cid uint32, batchID int64) []byte {
	k := make([]byte, 20)
	copy(k[0:8], encodeUint64(user))
	copy(k[8:12], encodeUint32(cid))
	copy(k[12:20], encodeUint64(uint64(batchID)))
	return k
}

// userPrefix builds the prefix matching every collection_meta/bso row
// belonging to user, for delete_storage.
func userPrefix(user uint64) []byte {
	return encodeUint64(user)
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
