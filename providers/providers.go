// Package providers registers every built-in transport.
// Import it to make them available via provider.New():
//
//	import _ "github.com/rashee1997/orchestrator-sub006/providers"
package providers

import (
	_ "github.com/rashee1997/orchestrator-sub006/anthropic"
	_ "github.com/rashee1997/orchestrator-sub006/cli"
	_ "github.com/rashee1997/orchestrator-sub006/gemini"
	_ "github.com/rashee1997/orchestrator-sub006/local"
	_ "github.com/rashee1997/orchestrator-sub006/openaicompat"
)
