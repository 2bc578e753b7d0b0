// Package idgen mints gate identifiers.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// GatePrefix starts every gate ID.
const GatePrefix = "gt-"

const (
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	length   = 10
)

// Func mints one identifier.
type Func func() (string, error)

// Gate mints random gate IDs.
var Gate = Random(GatePrefix)

// Random returns a Func producing prefix plus ten nanoid characters from
// [a-z0-9].
func Random(prefix string) Func {
	return func() (string, error) {
		id, err := nanoid.Generate(alphabet, length)
		if err != nil {
			return "", fmt.Errorf("idgen: %w", err)
		}
		return prefix + id, nil
	}
}

// Sequential returns a Func yielding prefix0001, prefix0002, ... for runs
// whose output must not vary between executions.
func Sequential(prefix string) Func {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("%s%04d", prefix, n.Add(1)), nil
	}
}

// Valid reports whether id is prefix followed by at least one [a-z0-9]
// character. Both Random and Sequential IDs pass.
func Valid(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
