// Package prompt renders the built-in prompts the orchestrator sends to
// models: relevance analysis, search decisions, answer synthesis, and JSON
// repair.
//
// Templates use text/template syntax with a few helpers:
//
//	{{truncate .Content 400}}   cut to about 400 tokens
//	{{json .Schema}}            pretty-printed JSON
//	{{default .Hint "any"}}     fallback for empty values
//	{{indent .Text 2}}          prefix every line
//
// Built-in templates can be replaced by name:
//
//	e := prompt.New()
//	err := e.Register(prompt.Decision, customText)
//	text, err := e.Render(prompt.Decision, prompt.DecisionData{...})
package prompt
