// Package service wires the SemTrust building blocks into the two runnable
// roles: the Publisher, which owns the author stream, produces annotated
// sensor readings and serves the announcement exchange, and the Subscriber,
// which joins that stream, reconciles readings with their annotations and
// serves the scored dashboard.
//
// Dependencies holds what both roles share: the validated configuration, the
// Prometheus registry, the health monitor, the optional NATS client and the
// transport log. Each role opens its own prefixed snapshot store through
// Dependencies.OpenStore.
//
// Both roles follow the same lifecycle:
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//
// Run blocks until its context is cancelled or a fatal error occurs, and
// always leaves the HTTP listener closed and a final snapshot written.
//
//	deps, err := service.NewDependencies("subscriber", cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer deps.Close(context.Background())
//	if err := deps.Connect(ctx); err != nil {
//	    return err
//	}
//	return service.NewSubscriber(deps).Run(ctx)
package service
