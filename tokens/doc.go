// Package tokens estimates prompt sizes and packs text into token budgets.
//
// Estimation uses the rule of thumb that about 4 characters make 1 token
// for English text. The dispatcher uses it to compute the context length
// that drives model selection; the search controller uses Budget and
// Truncate to keep batched prompts inside a model's window.
//
//	n := tokens.EstimatePrompt(system, prompt)
//
//	budget := tokens.NewBudget(32_000, 4_000) // total, reserved for the response
//	for _, item := range items {
//	    if !budget.Consume(item) {
//	        break
//	    }
//	}
//
//	short := tokens.Truncate(text, 500, tokens.FromMiddle)
package tokens
