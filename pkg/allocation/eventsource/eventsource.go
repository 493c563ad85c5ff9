package eventsource

import (
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/engine"
)

// EventSource feeds allocation requests and commands into the engine channels and
// returns decisions to the requester.
type EventSource interface {
	Receive(queue string, commands chan *allocation.Event, events chan *allocation.Event) error
	Reply(res *engine.Result) error
	TriggerReload() error
	Close()
}
