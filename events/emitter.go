// Package events carries the notifications WSV and the block lifecycle
// raise after a state change, grounded on events/emitter.go's
// subscribe/emit broker.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventDomainRegistered            EventType = "domain_registered"
	EventDomainUnregistered          EventType = "domain_unregistered"
	EventAccountRegistered           EventType = "account_registered"
	EventAccountUnregistered         EventType = "account_unregistered"
	EventAssetDefinitionRegistered   EventType = "asset_definition_registered"
	EventAssetDefinitionUnregistered EventType = "asset_definition_unregistered"
	EventKeyValueSet                 EventType = "key_value_set"
	EventKeyValueRemoved             EventType = "key_value_removed"
	EventAssetMinted                 EventType = "asset_minted"
	EventAssetBurned                 EventType = "asset_burned"
	EventAssetTransferred            EventType = "asset_transferred"
	EventBlockCommitted              EventType = "block_committed"
)

// Event carries a typed payload emitted after a WSV or block-lifecycle
// state change.
type Event struct {
	Type   EventType      `json:"type"`
	Height uint64         `json:"height"`
	Data   map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	logger   *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger is
// replaced with a no-op logger.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), logger: logger}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("events: handler panicked",
						zap.String("type", string(ev.Type)), zap.Any("recover", r))
				}
			}()
			h(ev)
		}()
	}
}
