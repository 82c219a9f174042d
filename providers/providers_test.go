package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rashee1997/orchestrator-sub006/provider"
)

func TestAllRegistered(t *testing.T) {
	for _, name := range []string{"anthropic", "cli", "gemini", "local", "openai"} {
		assert.True(t, provider.IsRegistered(name), name)
	}
}
