package eventsource

import (
	"context"
	"log/slog"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/engine"
)

// Serve connects src to e and replies to every request until ctx is done.
func Serve(ctx context.Context, src EventSource, e *engine.Engine, queue string) error {
	if err := src.Receive(queue, e.Commands, e.Events); err != nil {
		return err
	}

	for res := range e.ProcessEvents(ctx) {
		if err := src.Reply(res); err != nil {
			slog.Error("failed to reply", "topic", res.Event.Topic, "err", err.Error())
		}
	}
	return ctx.Err()
}
