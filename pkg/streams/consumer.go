package streams

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

type HandlerFunc func(context.Context, string, map[string][]string, []byte) error

// ConsumeNew delivers messages published on subject from now on, until ctx is done.
func (this *Stream) ConsumeNew(ctx context.Context, subject string, handler HandlerFunc) error {
	s, err := this.stream(ctx)
	if err != nil {
		return err
	}

	cons, err := s.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return err
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if handler != nil {
			handler(ctx, msg.Subject(), msg.Headers(), msg.Data())
		}
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return nil
}
