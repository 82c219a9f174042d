package prompt

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Built-in template names.
const (
	Analysis = "analysis"
	Decision = "decision"
	Answer   = "answer"
	Repair   = "repair"
)

// Engine renders named templates. Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	funcs     template.FuncMap
	templates map[string]*template.Template
}

// New creates an engine preloaded with the built-in templates.
func New() *Engine {
	e := &Engine{
		funcs:     defaultFuncs(),
		templates: make(map[string]*template.Template),
	}
	for name, text := range builtins {
		if err := e.Register(name, text); err != nil {
			panic(fmt.Sprintf("prompt: built-in %s: %v", name, err))
		}
	}
	return e
}

// Register parses text and stores it under name, replacing any previous
// template with that name.
func (e *Engine) Register(name, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tmpl, err := template.New(name).Funcs(e.funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	e.templates[name] = tmpl
	return nil
}

// Names returns the registered template names.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.templates))
	for n := range e.templates {
		out = append(out, n)
	}
	return out
}

// Render executes the named template with data.
func (e *Engine) Render(name string, data any) (string, error) {
	e.mu.RLock()
	tmpl, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrExecute, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
