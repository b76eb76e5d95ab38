package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Extension is appended to every document key.
const Extension = ".html"

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates a fresh key under folder. Two calls never return
	// the same key.
	GenerateKey(folder string) string
}

// RandomGenerator produces "{folder}/{uuid}.html" keys. Uniqueness comes from
// the random UUID, so no coordination between writers is needed.
type RandomGenerator struct{}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

func (g *RandomGenerator) GenerateKey(folder string) string {
	return fmt.Sprintf("%s/%s%s", sanitizePathComponent(folder), uuid.New(), Extension)
}

// Parse splits a key produced by RandomGenerator into its folder and id.
func Parse(key string) (folder string, id uuid.UUID, err error) {
	idx := strings.LastIndex(key, "/")
	if idx <= 0 || !strings.HasSuffix(key, Extension) {
		return "", uuid.Nil, fmt.Errorf("malformed object key %q", key)
	}
	folder = key[:idx]
	id, err = uuid.Parse(strings.TrimSuffix(key[idx+1:], Extension))
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("malformed object key %q: %w", key, err)
	}
	return folder, id, nil
}

// InFolder reports whether key is a well-formed document key under folder.
func InFolder(key, folder string) bool {
	f, _, err := Parse(key)
	return err == nil && f == folder
}

// sanitizePathComponent removes characters that would create extra path
// segments or escape the folder.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "..", "")
	s = strings.Trim(s, "/")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "default"
	}
	return s
}
