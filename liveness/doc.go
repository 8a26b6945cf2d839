// Package liveness detects failed agents from heartbeat silence.
//
// A Sender refreshes one agent's heartbeat in the directory at a fixed
// interval. A Monitor sweeps the directory on two schedules:
//
//	ACTIVE  --(age >= AliveTTL)-->  OFFLINE  --(age >= PurgeTTL)-->  PURGED
//
// The OFFLINE transition emits agent_offline on the broadcast channel
// exactly once per silence; a later heartbeat or registration makes the
// agent active again. PURGED removes the record without an event.
//
// Usage:
//
//	mon, err := liveness.NewMonitor(liveness.MonitorConfig{
//		Directory: dir,
//		Publisher: b,
//	}, logger)
//	mon.Start(ctx)
//	defer mon.Stop()
//
// A panic inside one sweep is logged and the loop carries on at its next
// tick.
package liveness
