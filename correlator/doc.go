// Package correlator layers awaitable request/response calls on the bus.
//
// A Correlator owns one agent's direct channel for responses. Each Request
// gets a fresh correlation id, is published to the recipient's direct
// channel and waits for the response carrying the same id:
//
//	c := correlator.New(b, "ceo", correlator.Options{})
//	c.Start()
//	defer c.Stop()
//
//	res, err := c.Request(ctx, "cto", message.Query{Question: "status"}, 2*time.Second)
//	if err != nil {
//		return err
//	}
//	if res.TimedOut {
//		// no answer in time
//	}
//
// Responders answer with Reply. Exactly one response is honoured per
// correlation id; duplicates and stragglers are dropped quietly.
package correlator
