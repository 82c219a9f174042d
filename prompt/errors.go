package prompt

import "errors"

// Sentinel errors for prompt rendering.
var (
	// ErrEmpty is returned when a template string is empty.
	ErrEmpty = errors.New("template is empty")

	// ErrParse is returned when a template fails to parse.
	ErrParse = errors.New("template parse error")

	// ErrExecute is returned when template execution fails.
	ErrExecute = errors.New("template execution error")

	// ErrUnknown is returned when rendering a name that was never registered.
	ErrUnknown = errors.New("unknown template")
)
