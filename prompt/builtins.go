package prompt

// Item is one context item as shown to a model.
type Item struct {
	SourceID  string
	Content   string
	Relevance float64
}

// AnalysisData feeds the Analysis template.
type AnalysisData struct {
	Query string
	Items []Item

	// MaxItemTokens bounds each item's excerpt.
	MaxItemTokens int
}

// DecisionData feeds the Decision template.
type DecisionData struct {
	Query         string
	Iteration     int
	MaxIterations int
	WebEnabled    bool
	Items         []Item
	History       []string
	MaxItemTokens int
}

// AnswerData feeds the Answer template.
type AnswerData struct {
	Query         string
	Items         []Item
	MaxItemTokens int
}

// RepairData feeds the Repair template.
type RepairData struct {
	Malformed   string
	Shape       string
	Schema      string
	Context     string
	PriorErrors []string
}

// System instructions paired with the built-in templates.
const (
	AnalysisSystem = "You rate how relevant retrieved passages are to a question. Reply with JSON only."
	DecisionSystem = "You control a retrieval loop. Decide whether the gathered context answers the question. Reply with JSON only."
	AnswerSystem   = "You answer questions using only the provided context. Cite sources by their id."
	RepairSystem   = "You fix malformed JSON. Reply with the corrected JSON value only, no prose and no code fences."
)

var builtins = map[string]string{
	Analysis: `Question: {{.Query}}

Rate each passage's relevance to the question from 0 to 1.
{{range $i, $it := .Items}}
[{{$i}}] source={{$it.SourceID}} current={{score $it.Relevance}}
{{truncate $it.Content (default $.MaxItemTokens 300)}}
{{end}}
Reply with a JSON array, one object per passage:
[{"index": 0, "relevance": 0.0, "rationale": "..."}]`,

	Decision: `Question: {{.Query}}
Iteration {{inc .Iteration}} of {{.MaxIterations}}.
{{if .History}}
Previous decisions:
{{range .History}}- {{.}}
{{end}}{{end}}
Context gathered so far ({{len .Items}} passages):
{{range $i, $it := .Items}}
[{{$i}}] {{$it.SourceID}} (relevance {{score $it.Relevance}})
{{truncate $it.Content (default $.MaxItemTokens 200)}}
{{end}}
Choose exactly one decision:
- ANSWER: the context is enough to answer.
- SEARCH_AGAIN: search the index again with a refined query.
{{- if .WebEnabled}}
- SEARCH_WEB: search the web with a refined query.
{{- end}}

Reply as JSON:
{"decision": "ANSWER", "query": "refined query if searching", "reasoning": "why", "confidence": 0.0}`,

	Answer: `Question: {{.Query}}

Context:
{{range $i, $it := .Items}}
--- [{{$it.SourceID}}] ---
{{truncate $it.Content (default $.MaxItemTokens 800)}}
{{end}}
Answer the question. If the context is insufficient, say what is missing.`,

	Repair: `The following text should be a JSON {{default .Shape "value"}} but does not parse.
{{if .Context}}
It was produced for: {{.Context}}
{{end}}{{if .Schema}}
It must match this JSON Schema:
{{.Schema}}
{{end}}{{if .PriorErrors}}
Parse errors so far:
{{range .PriorErrors}}- {{.}}
{{end}}{{end}}
Text:
{{truncate .Malformed 4000}}`,
}
