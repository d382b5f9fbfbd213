// Package worker provides a bounded, generic worker pool.
//
// The publisher uses it to run annotation jobs for several sensors
// concurrently: each tick submits one job per sensor and the pool's
// processor calls SDK.Create. Submit never blocks; a full queue returns
// ErrQueueFull and the job is counted as dropped.
//
//	pool := worker.NewPool(4, 64, func(ctx context.Context, j job) error {
//	    return sdk.Create(ctx, j.payload)
//	}, worker.WithErrorHandler[job](logFailure))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker
