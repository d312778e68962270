// Package idgen generates the identifiers docroute hands out: task IDs,
// document IDs and request IDs. Task and document IDs are UUIDv7 so they
// sort by creation time.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator of base-36 IDs of the given length. Used for
// request IDs where a UUID is too long to read in a log line.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Prefixes of the typed identifiers.
const (
	TaskPrefix     = "task_"
	DocumentPrefix = "doc_"
	RequestPrefix  = "req_"
)

var (
	taskGen     = Prefixed(TaskPrefix, UUIDv7())
	documentGen = Prefixed(DocumentPrefix, UUIDv7())
	requestGen  = Prefixed(RequestPrefix, NanoID(12))
)

// Task returns a fresh task ID.
func Task() string { return taskGen() }

// Document returns a fresh document ID.
func Document() string { return documentGen() }

// Request returns a fresh request ID.
func Request() string { return requestGen() }
