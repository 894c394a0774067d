package deltasync

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/tessaro/ordmirror/internal/portal"
)

// ContentHash fingerprints one record's significant fields. Fields are
// hashed in sorted key order with whitespace collapsed, so a hash is
// stable across column reordering and formatting changes in the portal's
// list views.
func ContentHash(rec portal.Record) string {
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(rec.ID))
	h.Write([]byte{0})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(normalizeWhitespace(rec.Fields[k])))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
