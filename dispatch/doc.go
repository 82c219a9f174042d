// Package dispatch routes a task to a model and keeps trying until one
// answers.
//
// For each task the Dispatcher asks the model registry for an ordered
// candidate list, then walks it. Every attempt first obtains rate-limit
// admission for a (credential, model) bucket, then sends through the
// provider's transport under a hard per-attempt timeout. Failures are
// classified: rate limits penalize the bucket, transient failures back off
// linearly and retry, and authentication failures retire the credential.
// Quota exhaustion retires the credential for that model, and the model
// itself once no credential has quota left. Malformed requests abort.
//
// # Usage
//
//	d, err := dispatch.New(registry, rules, store,
//	    dispatch.WithTransport(geminiTransport),
//	    dispatch.WithLimiter(limiter),
//	)
//	res, err := d.Dispatch(ctx, model.TaskQueryRewriting, prompt, system, dispatch.Options{})
//	if errors.Is(err, dispatch.ErrAllBackendsExhausted) {
//	    // every candidate failed; see (*dispatch.Error).AllRateLimited
//	}
package dispatch
