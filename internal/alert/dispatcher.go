package alert

import "context"

// Dispatcher fans out alert events to matching webhook configurations.
// A nil Dispatcher (no configured webhooks) dispatches nothing.
type Dispatcher struct {
	configs []AlertConfig
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty.
func NewDispatcher(configs []AlertConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Events list includes
// the event type. Fires goroutines; does not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event.Type) {
			// Delivery outlives the request that raised the event.
			go Send(context.Background(), cfg, event)
		}
	}
}

func matches(events []string, eventType string) bool {
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}
