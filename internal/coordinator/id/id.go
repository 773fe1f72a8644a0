// Package id generates the opaque identifiers used throughout the
// coordinator: nanoid-based strings for API keys and their key ids, and the
// 8-hex-char suffix that terminates every message id.
package id

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/google/uuid"
)

// Generate returns a 32-character nanoid using an alphanumeric alphabet (A-Za-z0-9).
func Generate() string {
	id, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 32)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}

// MessageSuffix returns an 8-character lowercase hex string suitable as the
// final segment of a message id ({from}::{to}::{8-hex-uuid}). It is derived
// from a random UUIDv4 rather than hand-rolled random bytes so the
// randomness source is the same one the rest of the pack relies on.
func MessageSuffix() string {
	u := uuid.New().String()
	return strings.ReplaceAll(u, "-", "")[:8]
}
