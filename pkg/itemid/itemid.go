// Package itemid generates and validates short typed identifiers for
// pipeline records.
//
// ID Format: <kind:2>-<base62_ts:4><base62_rand:4> (11 chars total including dash)
//
// Kinds:
//   - tk = task
//   - em = email
//   - cm = commit
//   - ms = chat message
//   - rn = classification run
//
// The timestamp component uses microseconds since epoch modulo 62^4, so IDs
// minted close together sort roughly by creation time within a ~171 day
// cycle. The random component provides 14M+ combinations per tick.
package itemid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/triaged/pkg/triage"
)

// Kind prefixes.
const (
	KindTask    = "tk"
	KindEmail   = "em"
	KindCommit  = "cm"
	KindMessage = "ms"
	KindRun     = "rn"
)

// base62 alphabet: 0-9, a-z, A-Z
const base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62Max is 62^4 = 14,776,336 (used for timestamp wrapping)
const base62Max = 62 * 62 * 62 * 62

var validKinds = map[string]bool{
	KindTask:    true,
	KindEmail:   true,
	KindCommit:  true,
	KindMessage: true,
	KindRun:     true,
}

// itemKinds maps work-item types to their ID prefix.
var itemKinds = map[triage.ItemType]string{
	triage.ItemTypeTask:    KindTask,
	triage.ItemTypeEmail:   KindEmail,
	triage.ItemTypeCommit:  KindCommit,
	triage.ItemTypeMessage: KindMessage,
}

// Errors
var (
	ErrInvalidFormat = errors.New("invalid item ID format")
	ErrInvalidKind   = errors.New("invalid item ID kind")
)

// ID is a parsed identifier.
type ID struct {
	Kind      string // kind prefix (tk, em, cm, ms, rn)
	Timestamp string // base62 encoded timestamp (4 chars)
	Random    string // base62 encoded random component (4 chars)
	Raw       string // original ID string
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return id.Raw
}

// New generates an identifier with the given kind prefix.
// Panics if kind is not one of the kind constants.
func New(kind string) string {
	if !validKinds[kind] {
		panic(fmt.Sprintf("itemid: invalid kind: %q", kind))
	}

	ts := encodeBase62(uint64(time.Now().UnixNano()/1000) % base62Max)
	rnd := randomBase62(4)

	return fmt.Sprintf("%s-%s%s", kind, ts, rnd)
}

// ForItem generates an identifier for a work item of the given type.
func ForItem(t triage.ItemType) string {
	kind, ok := itemKinds[t]
	if !ok {
		panic(fmt.Sprintf("itemid: unmapped item type: %q", t))
	}
	return New(kind)
}

// Parse validates and parses an identifier string.
func Parse(id string) (ID, error) {
	if len(id) != 11 {
		return ID{}, fmt.Errorf("%w: expected 11 characters, got %d", ErrInvalidFormat, len(id))
	}
	if id[2] != '-' {
		return ID{}, fmt.Errorf("%w: missing dash at position 2", ErrInvalidFormat)
	}

	prefix := id[:2]
	if !validKinds[prefix] {
		return ID{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKind, prefix)
	}

	suffix := id[3:]
	if !isValidBase62(suffix) {
		return ID{}, fmt.Errorf("%w: suffix contains invalid characters", ErrInvalidFormat)
	}

	return ID{
		Kind:      prefix,
		Timestamp: suffix[:4],
		Random:    suffix[4:],
		Raw:       id,
	}, nil
}

// IsValid checks whether a string is a well-formed identifier.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// KindOf extracts the kind prefix from an identifier string.
// Returns empty string if the ID is invalid.
func KindOf(id string) string {
	parsed, err := Parse(id)
	if err != nil {
		return ""
	}
	return parsed.Kind
}

// encodeBase62 encodes a number as a 4-character base62 string.
func encodeBase62(n uint64) string {
	result := make([]byte, 4)
	for i := 3; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(result)
}

// randomBase62 generates a random base62 string of the specified length.
// Uses rejection sampling to eliminate modulo bias.
func randomBase62(length int) string {
	result := make([]byte, length)

	// 256 / 62 = 4 with remainder 8, so values 0-247 map evenly to 0-61.
	// Reject values 248-255 to eliminate bias.
	const maxUnbiased = 248

	for i := 0; i < length; {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			result[i] = base62Alphabet[0]
			i++
			continue
		}
		if b[0] < maxUnbiased {
			result[i] = base62Alphabet[b[0]%62]
			i++
		}
	}

	return string(result)
}

// isValidBase62 checks if a string contains only base62 characters.
func isValidBase62(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}
