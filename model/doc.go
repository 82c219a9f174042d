// Package model describes the models the orchestrator can dispatch to and
// chooses among them per task.
//
// A Registry holds one Descriptor per model (provider, capability tier,
// cost tier, per-minute limit, availability). Rules map every TaskType to
// a preferred model and an ordered fallback chain. Select combines the
// two:
//
//	reg, _ := model.NewRegistry(model.DefaultDescriptors()...)
//	reg.Probe(ctx, credentials)
//	rules := model.DefaultRules()
//	if err := rules.Validate(reg); err != nil {
//	    return err
//	}
//	candidates, err := reg.Select(rules, model.TaskQueryRewriting, 0)
//
// # Statistics
//
// Stats records per-model attempts, latency, and token usage:
//
//	stats := model.NewStats()
//	stats.RecordSuccess("gemini-2.5-flash", 420*time.Millisecond, model.Usage{InputTokens: 1000, OutputTokens: 200})
//	cost := stats.EstimatedCost(reg)
package model
