// Package presence tracks which agents are alive through etcd leases.
//
// An agent announces itself by writing its Info under a leased key
// "<namespace>/agents/<agent-id>" and keeps the lease alive in the
// background. A process that aggregates resources from several agents
// watches the prefix: when an agent's key disappears, either because the
// agent withdrew or because its lease expired, the watcher receives an
// EventLeft and can drop every resource that agent reported.
//
// Example usage:
//
//	client, err := presence.NewClient(cfg.Presence)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Watch(ctx, func(ev presence.Event) {
//	    if ev.Type == presence.EventLeft {
//	        registry.CleanAgent(ev.AgentID)
//	    }
//	})
package presence

import (
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Info is the value stored under an agent's key.
type Info struct {
	AgentID   string    `json:"agent_id"`
	Modules   []string  `json:"modules,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// EventType distinguishes agent arrivals from departures.
type EventType int

const (
	// EventJoined is sent when an agent key is created.
	EventJoined EventType = iota + 1

	// EventLeft is sent when an agent key is deleted or its lease expires.
	EventLeft
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event reports a change in agent presence.
type Event struct {
	Type    EventType
	AgentID string
}

// Handler receives presence events. It is called from the watch goroutine
// and must not block for long.
type Handler func(Event)

// agentsPrefix returns "<namespace>/agents/".
func agentsPrefix(namespace string) string {
	return strings.TrimRight(namespace, "/") + "/agents/"
}

// agentKey returns "<namespace>/agents/<agent-id>".
func agentKey(namespace, agentID string) string {
	return agentsPrefix(namespace) + agentID
}

// handleEvents translates watch events under prefix into presence events.
// Updates to an existing key (lease refreshes, re-announces) are dropped.
func handleEvents(prefix string, events []*clientv3.Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev == nil || ev.Kv == nil {
			continue
		}
		id := strings.TrimPrefix(string(ev.Kv.Key), prefix)
		if id == "" || id == string(ev.Kv.Key) || strings.Contains(id, "/") {
			continue
		}

		switch {
		case ev.Type == clientv3.EventTypeDelete:
			out = append(out, Event{Type: EventLeft, AgentID: id})
		case ev.IsCreate():
			out = append(out, Event{Type: EventJoined, AgentID: id})
		}
	}
	return out
}
