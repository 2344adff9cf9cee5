package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/Sternrassler/wcl-client/pkg/query"
)

// Namespace prefixes every cache key.
const Namespace = "wcl"

// maxKeyLength keeps file names well below common 255-byte limits.
const maxKeyLength = 200

// CacheKey represents a unique identifier for a cached query result.
type CacheKey struct {
	// Operation is the operation name (e.g. "events").
	Operation string

	// Subject is the primary identifier value (e.g. a report code).
	Subject string

	// Params are the remaining bound parameters in declaration order.
	Params []query.Param

	// Discriminator is the value that closes the key (e.g. a view name).
	Discriminator string
}

// KeyFor derives the cache key of a query. The api key and the endpoint
// template never take part; neither is a query value.
func KeyFor(q query.Query) CacheKey {
	op := q.Operation()
	if op == nil {
		return CacheKey{}
	}

	key := CacheKey{Operation: op.Name}
	for _, p := range q.Ordered() {
		switch p.Name {
		case op.Subject:
			key.Subject = p.Value
		case op.Discriminator:
			key.Discriminator = p.Value
		default:
			key.Params = append(key.Params, p)
		}
	}
	return key
}

// String generates a deterministic, filesystem-safe cache key string.
// Format: wcl_operation_subject_name=value_..._discriminator
//
// Example:
//
//	wcl_events_ABC123_start=100_damage-done
//
// Every component is escaped so only [A-Za-z0-9.-] appear literally; the
// separators "_" and "=" therefore never occur inside a component.
func (k CacheKey) String() string {
	parts := []string{Namespace, escape(k.Operation)}

	if k.Subject != "" {
		parts = append(parts, escape(k.Subject))
	}

	for _, p := range k.Params {
		parts = append(parts, escape(p.Name)+"="+escape(p.Value))
	}

	if k.Discriminator != "" {
		parts = append(parts, escape(k.Discriminator))
	}

	s := strings.Join(parts, "_")
	if len(s) <= maxKeyLength {
		return s
	}

	sum := sha256.Sum256([]byte(s))
	return s[:maxKeyLength-33] + "_" + hex.EncodeToString(sum[:16])
}

// FileName returns the name of the file holding the entry.
func (k CacheKey) FileName() string {
	return k.String() + ".json"
}

func escape(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isSafe(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '.' || c == '-'
}
