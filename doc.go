// Package orchestrator coordinates requests across heterogeneous AI
// backends.
//
// An Orchestrator owns one instance of each component and hands them to
// each other explicitly; there is no package-level state:
//
//   - credential: static key rotation and OAuth refresh per provider
//   - ratelimit: sliding-window admission per credential and model
//   - model: the model registry and the task routing table
//   - dispatch: fallback across models with classified retries
//   - repair: coercing malformed model output into JSON
//   - search: the bounded answer / search again / search the web loop
//
// # Quick Start
//
//	cfg, err := config.Load("orchestrator.yaml")
//	if err != nil {
//		return err
//	}
//	orch, err := orchestrator.New(ctx, orchestrator.WithConfig(cfg))
//	if err != nil {
//		return err
//	}
//	defer orch.Close()
//
//	res, err := orch.Dispatch(ctx, model.TaskSummarization, text, "", dispatch.Options{})
//
// Transports register themselves from init; importing this package pulls
// in every built-in transport through the providers package.
package orchestrator
