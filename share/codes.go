package share

import (
	"fmt"

	"github.com/jaevor/go-nanoid"

	"github.com/shelfmate/sharing-backend/interfaces"
)

// CodeGenerator produces fresh share codes from the shared
// uppercase-alphanumeric code space.
type CodeGenerator struct {
	generate func() string
}

// NewCodeGenerator creates a generator over the share code alphabet.
func NewCodeGenerator() (*CodeGenerator, error) {
	generate, err := nanoid.CustomASCII(interfaces.ShareCodeAlphabet, interfaces.ShareCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize code generator: %w", err)
	}
	return &CodeGenerator{generate: generate}, nil
}

// Generate returns a random 6-character code. Uniqueness across the share and
// alias namespaces is the caller's responsibility.
func (g *CodeGenerator) Generate() interfaces.ShareCode {
	return interfaces.ShareCode(g.generate())
}
