// Package bus routes messages between agents over named channels.
//
// # Layers
//
// A Transport moves encoded frames:
//
//   - MemoryTransport: in-process, one unbounded mailbox per subscription
//   - NATSTransport: NATS core pub/sub for agents spread across processes
//
// The Bus sits on a Transport and speaks message.Message. It encodes to the
// JSON wire format, records every publish in a bounded History, and runs
// one delivery goroutine per (channel, subscriber) pair.
//
// # Delivery
//
//	b, _ := bus.NewMemory(bus.Options{Logger: logger})
//	b.Subscribe("agent:cto", "cto", func(ctx context.Context, m message.Message) error {
//	    // handle
//	    return nil
//	})
//	b.Publish(ctx, "agent:cto", message.NewCommand("ceo", "cto", "plan", nil))
//
// Publish returns once the frame is handed to the transport. Handler
// errors and panics are logged as delivery failures and do not affect the
// publisher or other subscribers. Messages from one publisher on one
// channel reach each subscriber in publish order.
//
// # History
//
// History keeps the most recent entries per time bucket for a fixed number
// of buckets. With Options.Search set, retained entries are also indexed
// in an in-memory bleve index for full-text lookup.
package bus
