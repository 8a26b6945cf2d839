// Package directory keeps the table of agents in the organisation.
//
// Agents register with their role, tier, department, capabilities and
// reporting line. The directory answers lookups, selects an idle agent for
// work, reconstructs the reporting tree and exposes the primitives the
// liveness monitor uses to mark and purge silent agents.
//
// Basic usage:
//
//	dir := directory.New(directory.Options{Publisher: b})
//	dir.Register(ctx, directory.AgentInfo{
//		ID:           "cto",
//		Role:         "CTO",
//		Tier:         message.TierExecutive,
//		Capabilities: []string{"architecture"},
//	})
//
//	id, ok := dir.FindAvailable("cto", "architecture")
//
// Registration and removal are announced on the broadcast channel as
// agent_registered and agent_unregistered events when a Publisher is set.
package directory
