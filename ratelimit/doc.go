// Package ratelimit implements per-credential sliding-window admission
// control.
//
// Each key (usually a credential/model bucket) owns an ordered list of
// request timestamps inside a trailing 60 second window. A request is
// admitted while the pruned window holds fewer than the key's limit.
//
//	lim := ratelimit.New(ratelimit.WithDefaultLimit(10))
//	if r, ok := lim.Reserve("key-1/gemini-2.5-flash"); ok {
//	    resp, err := send()
//	    if errors.Is(err, provider.ErrNotSent) {
//	        r.Cancel()
//	    }
//	} else {
//	    time.Sleep(lim.WaitTime("key-1/gemini-2.5-flash"))
//	}
//
// When a provider explicitly rejects a request as rate limited, Penalize
// fills the window so the key stays blocked until it drains on its own.
package ratelimit
