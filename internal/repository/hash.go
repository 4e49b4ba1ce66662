package repository

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultLongTTL suits data that rarely changes (catalogs, definitions).
	DefaultLongTTL = 5 * time.Minute
	// DefaultShortTTL suits per-user state.
	DefaultShortTTL = 30 * time.Second
)

// QueryHash derives a stable cache key from a query name and its
// parameters. String slices contribute ":item" per element; every other
// parameter contributes "_value".
func QueryHash(name string, params ...any) string {
	var b strings.Builder
	b.WriteString(name)
	for _, p := range params {
		switch v := p.(type) {
		case []string:
			for _, item := range v {
				b.WriteString(":")
				b.WriteString(item)
			}
		default:
			b.WriteString("_")
			fmt.Fprint(&b, v)
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}
