package ingest

import (
	"path/filepath"
	"strings"

	"github.com/ivansantander-hub/docuchat/internal/registry"
)

// CombinedStoreName is the name of the shared system-wide store.
const CombinedStoreName = "combined"

// FanoutPolicy decides which stores every ingested document is written into.
// The per-document store and the owner's combined store are always written;
// the system-wide combined store is opt-in.
type FanoutPolicy struct {
	SystemCombined bool
}

// Targets returns the store keys a document fans out to.
func (p FanoutPolicy) Targets(userID, docbase string) []registry.StoreKey {
	targets := []registry.StoreKey{
		registry.UserStore(userID, userID+"_"+docbase),
		registry.UserStore(userID, userID+"_"+CombinedStoreName),
	}
	if p.SystemCombined {
		targets = append(targets, registry.SystemStore(CombinedStoreName))
	}
	return targets
}

// Docbase derives a store-name component from a document file name: the base
// name without extension, lowercased, with unsafe runes collapsed to
// underscores.
func Docbase(document string) string {
	base := filepath.Base(document)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
