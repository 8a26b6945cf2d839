package message

import "strings"

// Channel naming. Every agent listens on its direct channel, the broadcast
// channel, its department channel and its tier group channel.
const (
	channelPrefix    = "agent:"
	BroadcastChannel = "agent:broadcast"
)

// Tier is an agent's level in the organisation.
type Tier string

const (
	TierExecutive Tier = "executive"
	TierManager   Tier = "manager"
	TierWorker    Tier = "worker"
)

// Tiers lists every tier in hierarchy order.
var Tiers = []Tier{TierExecutive, TierManager, TierWorker}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierExecutive, TierManager, TierWorker:
		return true
	}
	return false
}

// Channel returns the group channel for the tier.
func (t Tier) Channel() string {
	switch t {
	case TierExecutive:
		return "agent:executives"
	case TierManager:
		return "agent:managers"
	case TierWorker:
		return "agent:workers"
	}
	return ""
}

// DirectChannel is the channel an agent receives addressed messages on.
func DirectChannel(agentID string) string {
	return channelPrefix + agentID
}

// DepartmentChannel is the channel shared by a department.
func DepartmentChannel(department string) string {
	return channelPrefix + "dept:" + strings.ToLower(department)
}

// ChannelsFor lists every channel an agent should subscribe to.
func ChannelsFor(agentID, department string, tier Tier) []string {
	chans := []string{DirectChannel(agentID), BroadcastChannel}
	if department != "" {
		chans = append(chans, DepartmentChannel(department))
	}
	if c := tier.Channel(); c != "" {
		chans = append(chans, c)
	}
	return chans
}
