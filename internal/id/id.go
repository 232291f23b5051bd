// Package id generates the identifiers used throughout sensbee: UUIDs for
// domain entities (sensors, users, roles, API keys, transformers, handlers)
// and opaque nanoid tokens for bearer-style session/request identifiers.
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/google/uuid"
)

// New returns a random UUID string, used as the primary key for every
// sensor, user, role, API key, transformer and event handler.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Token returns a 48-character nanoid built from an alphanumeric alphabet,
// used for session tokens and internal request-correlation ids that don't
// need to look like a UUID.
func Token() string {
	tok, err := gonanoid.Generate("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789", 48)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return tok
}
