package core

import (
	"sync"

	"homestead/core/events"
	"homestead/core/types"
	"homestead/escrow"
	"homestead/registry"
	"homestead/state"
	"homestead/storage"
)

const defaultEventHistory = 1024

// Node assembles the escrow ledger: storage, state manager, deed registry
// and the sale engine, plus a bounded in-memory buffer of emitted events
// for the query surface.
type Node struct {
	db       storage.Database
	state    *state.Manager
	registry *registry.Registry
	engine   *escrow.Engine

	eventMu    sync.RWMutex
	events     []types.Event
	maxHistory int
}

// NewNode wires a node over the provided database with the fixed seller,
// inspector and lender roles. Additional emitters (metrics, logs) receive
// every engine event alongside the node's own history buffer.
func NewNode(db storage.Database, seller, inspector, lender [20]byte, extra ...events.Emitter) (*Node, error) {
	manager := state.NewManager(db)
	reg := registry.NewRegistry(manager)
	reg.SetOperator(manager.VaultAddress())
	engine, err := escrow.NewEngine(reg, seller, inspector, lender)
	if err != nil {
		return nil, err
	}
	engine.SetState(manager)
	node := &Node{
		db:         db,
		state:      manager,
		registry:   reg,
		engine:     engine,
		maxHistory: defaultEventHistory,
	}
	emitters := append(events.Fanout{node}, extra...)
	engine.SetEmitter(emitters)
	return node, nil
}

// Emit implements events.Emitter, recording engine events for the RPC
// query surface.
func (n *Node) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, *event)
	if len(n.events) > n.maxHistory {
		n.events = n.events[len(n.events)-n.maxHistory:]
	}
}

// Events returns a snapshot of recently emitted events, oldest first.
func (n *Node) Events() []types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	out := make([]types.Event, len(n.events))
	copy(out, n.events)
	return out
}

// Engine returns the sale engine.
func (n *Node) Engine() *escrow.Engine { return n.engine }

// Registry returns the deed registry.
func (n *Node) Registry() *registry.Registry { return n.registry }

// VaultAddress returns the module account holding escrowed funds.
func (n *Node) VaultAddress() [20]byte { return n.state.VaultAddress() }
