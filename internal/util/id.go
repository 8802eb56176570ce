package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random id, optionally namespaced as "<prefix>_<hex>".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns an opaque secret for links sent by email.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
