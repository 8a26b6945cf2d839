// Package shutdown runs ordered, phased teardown.
//
// Steps are registered with a phase number. Lower phases run first and
// steps sharing a phase run concurrently:
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Logger: log})
//	coord.Register("status-loop", shutdown.PhaseLoops, stopStatus)
//	coord.Register("correlator", shutdown.PhaseAgents, stopCorrelator)
//	coord.Register("bus", shutdown.PhaseTransport, closeBus)
//
//	ctx, cancel := shutdown.NotifyContext(context.Background(), log)
//	defer cancel()
//	<-ctx.Done()
//	err := coord.ShutdownWithTimeout(10 * time.Second)
//
// A failing or panicking step does not stop its siblings. Later phases
// still run unless Config.StopOnError is set.
package shutdown
