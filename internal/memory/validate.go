package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// Content length bounds, in characters.
const (
	MinContentLen = 10
	MaxContentLen = 100_000
)

// ContentHash returns the lowercase hex SHA-256 of the UTF-8 bytes of s.
// No normalization is applied: unicode, newlines, and control characters
// all contribute to the hash so it is byte-faithful.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Validate returns every violation found on the record. An empty slice
// means the record is storable. Callers aggregate the violations into a
// single typed error rather than failing on the first.
func (r *Record) Validate() []string {
	var errs []string

	if r.Content == "" {
		errs = append(errs, "content is required")
	} else {
		n := utf8.RuneCountInString(r.Content)
		if n < MinContentLen {
			errs = append(errs, fmt.Sprintf("content too short: %d chars (min %d)", n, MinContentLen))
		}
		if n > MaxContentLen {
			errs = append(errs, fmt.Sprintf("content too long: %d chars (max %d)", n, MaxContentLen))
		}
	}

	if r.GroupID == "" {
		errs = append(errs, "group_id is required")
	}

	switch {
	case r.Type == "":
		errs = append(errs, "type is required")
	case !KnownType(r.Type):
		errs = append(errs, fmt.Sprintf("unknown type %q", r.Type))
	case KnownCollection(r.Collection) && !r.Collection.Allows(r.Type):
		errs = append(errs, fmt.Sprintf("type %q not valid for collection %q", r.Type, r.Collection))
	}

	switch {
	case r.SourceHook == "":
		errs = append(errs, "source_hook is required")
	case !KnownSourceHook(r.SourceHook):
		errs = append(errs, fmt.Sprintf("unknown source_hook %q", r.SourceHook))
	}

	if !KnownCollection(r.Collection) {
		errs = append(errs, fmt.Sprintf("unknown collection %q", r.Collection))
	}

	return errs
}

// ValidatePayload validates a raw payload map, returning every violation.
// This is the entry-point form used by host hooks that hand us untyped
// JSON; the typed path goes through Record.Validate.
func ValidatePayload(p map[string]any) []string {
	r := Record{}
	if v, ok := p["content"].(string); ok {
		r.Content = v
	}
	if v, ok := p["group_id"].(string); ok {
		r.GroupID = v
	}
	if v, ok := p["type"].(string); ok {
		r.Type = Type(v)
	}
	if v, ok := p["source_hook"].(string); ok {
		r.SourceHook = SourceHook(v)
	}
	if v, ok := p["collection"].(string); ok {
		r.Collection = Collection(v)
	} else {
		// Payloads without a collection are validated against the type
		// set only; collection placement happens at store time.
		errs := r.Validate()
		out := errs[:0]
		for _, e := range errs {
			if e != `unknown collection ""` {
				out = append(out, e)
			}
		}
		return out
	}
	return r.Validate()
}
