// Package idgen provides pluggable ID generation for cablesync.
//
// Stores and the engine accept a Generator, so tests can inject
// deterministic sequences while production uses UUIDv7.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so snapshot and run ids order by creation.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID
// (e.g. "head_", "arc_", "run_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator yielding prefix1, prefix2, ... Safe for
// concurrent use. Meant for tests that assert on ids.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s%d", prefix, n.Add(1))
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()
