package server

import (
	"fmt"
	"sync"

	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
)

// sendBufferSize bounds each agent's outbound queue. A full queue makes
// the reconciliation task yield until the agent's send task drains it.
const sendBufferSize = 64

// hub owns the per-agent outbound channels. The transport attaches one
// subscription per connected agent stream and drains it from the
// stream's send task.
type hub struct {
	mu     sync.Mutex
	agents map[string]*Subscription
}

// Subscription is one agent stream's outbound queue. The transport's
// send task drains Out until Closed fires.
type Subscription struct {
	ch   chan *api.FromServer
	done chan struct{}
}

// Out is the message queue for the stream's send task.
func (s *Subscription) Out() <-chan *api.FromServer {
	return s.ch
}

// Closed fires when the subscription has been detached.
func (s *Subscription) Closed() <-chan struct{} {
	return s.done
}

func newHub() *hub {
	return &hub{agents: make(map[string]*Subscription)}
}

// attach registers an agent stream and returns its outbound channel.
// A second stream under the same agent name is rejected; the first
// connection stays authoritative until it drops.
func (h *hub) attach(agent string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.agents[agent]; exists {
		return nil, fmt.Errorf("agent %q is already connected", agent)
	}
	sub := &Subscription{
		ch:   make(chan *api.FromServer, sendBufferSize),
		done: make(chan struct{}),
	}
	h.agents[agent] = sub
	return sub, nil
}

// detach removes an agent stream and unblocks any sender parked on its
// full queue.
func (h *hub) detach(agent string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.agents[agent]; ok {
		close(sub.done)
		delete(h.agents, agent)
	}
}

// sendTo queues a message for one agent, blocking while its buffer is
// full. A detach while parked drops the message; the agent will be
// re-seeded by ServerHello on reconnect.
func (h *hub) sendTo(agent string, msg *api.FromServer) {
	h.mu.Lock()
	sub, ok := h.agents[agent]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case sub.ch <- msg:
	case <-sub.done:
	}
}

// broadcast queues a message for every connected agent.
func (h *hub) broadcast(msg *api.FromServer) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.agents))
	for _, sub := range h.agents {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
}

// connected reports whether an agent stream is attached.
func (h *hub) connected(agent string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.agents[agent]
	return ok
}
