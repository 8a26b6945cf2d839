// Package errors defines the structured error taxonomy of the coordination
// core.
//
// Nothing in the bus, directory, correlator or liveness monitor is fatal at
// runtime. Failures there are classified with an ErrorCode, logged, and
// either swallowed (delivery failures, sweep errors) or surfaced as values
// (request timeouts, registry misses). Errors are only returned for
// programmer mistakes (invalid ids, calling into a stopped orchestrator) and
// for failing to bring up the bus transport.
//
// # Usage
//
//	err := errors.New(errors.ErrCodePrecondition, "orchestrator is not running")
//	if errors.Is(err, errors.ErrCodePrecondition) { ... }
//
// Recover a handler panic into a classified error:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        log.DeliveryFailure(ch, sub, id, errors.RecoverPanic(r))
//	    }
//	}()
package errors
