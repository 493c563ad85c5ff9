package eventsource

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/allocation/engine"
	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/streams"
)

const DRY_RUN_HEADER = "Dry-Run"

type natsEventSource struct {
	url     string
	opts    []nats.Option
	con     *nats.Conn
	cmdSub  *nats.Subscription
	workSub *nats.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// NewNatsEventSource takes requests from allocation.request as a queue group member.
// Extra options carry authentication, see streams.Stream.ConnectOptions.
func NewNatsEventSource(url string, opts ...nats.Option) EventSource {
	return &natsEventSource{url: url, opts: opts, done: make(chan struct{})}
}

func (s *natsEventSource) connect() (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.ErrorHandler(errorHandler),
		nats.DisconnectErrHandler(disconnectHandler),
		nats.ReconnectHandler(reconnectHandler),
		nats.ClosedHandler(closedHandler),
	}, s.opts...)
	return nats.Connect(s.url, opts...)
}

func (s *natsEventSource) Receive(queue string, commands chan *allocation.Event, events chan *allocation.Event) error {
	var err error
	s.con, err = s.connect()
	if err != nil {
		return err
	}

	// subscription for commands, every instance gets them
	s.cmdSub, err = s.con.Subscribe(allocation.EventPrefix+"*", func(msg *nats.Msg) {
		if allocation.IsCommand(msg.Subject) {
			s.deliver(commands, &allocation.Event{
				Received: time.Now().UTC(),
				Topic:    msg.Subject,
			})
		}
	})
	if err != nil {
		return err
	}

	// subscription for allocation requests, one instance of the queue group gets each
	s.workSub, err = s.con.QueueSubscribe(allocation.Request, queue, func(msg *nats.Msg) {
		go s.deliver(events, newEvent(msg))
	})
	if err != nil {
		return err
	}

	// set no limits for workload subscription, just in case
	return s.workSub.SetPendingLimits(-1, -1)
}

// deliver hands ev to the engine unless the source was closed meanwhile.
func (s *natsEventSource) deliver(ch chan *allocation.Event, ev *allocation.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-s.done:
		slog.Debug("event dropped, source closed", "topic", ev.Topic)
		return false
	}
}

func newEvent(msg *nats.Msg) *allocation.Event {
	dryRun := gjson.GetBytes(msg.Data, allocation.DRY_RUN_KEY).Bool()
	if h := streams.GetHeader(msg.Header, DRY_RUN_HEADER); h != "" {
		dryRun = strings.EqualFold(h, "true")
	}
	return &allocation.Event{
		Received: time.Now().UTC(),
		DryRun:   dryRun,
		Topic:    msg.Subject,
		ReplyTo:  msg.Reply,
		Data:     msg.Data,
	}
}

// Reply answers the requester, when it asked for a reply, and announces non dry run
// decisions on allocation.decided.
func (s *natsEventSource) Reply(res *engine.Result) error {
	if s.con == nil {
		return errors.New("event source not receiving")
	}

	data, err := replyPayload(res)
	if err != nil {
		return err
	}

	if res.Event != nil && res.Event.ReplyTo != "" {
		if err := s.con.Publish(res.Event.ReplyTo, data); err != nil {
			return err
		}
	}
	if res.Decision != nil && !res.Decision.DryRun {
		if err := s.con.Publish(allocation.Decided, data); err != nil {
			return err
		}
	}
	return nil
}

func replyPayload(res *engine.Result) ([]byte, error) {
	if res.Decision != nil {
		return json.Marshal(res.Decision)
	}
	msg := "no decision"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	return sjson.SetBytes([]byte("{}"), "error", msg)
}

func (s *natsEventSource) TriggerReload() error {
	nc, err := nats.Connect(s.url, s.opts...)
	if err != nil {
		return err
	}
	defer nc.Close()

	nc.Publish(allocation.CmdReload, nil)
	nc.Flush()

	return nc.LastError()
}

func (s *natsEventSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	if s.cmdSub != nil {
		s.cmdSub.Unsubscribe()
	}
	if s.workSub != nil {
		s.workSub.Drain()
	}
	if s.con != nil {
		s.con.Close()
	}
}

// error handler helper functions

func errorHandler(nc *nats.Conn, sub *nats.Subscription, err error) {
	slog.Error("nats error", "err", err.Error())

	if errors.Is(err, nats.ErrSlowConsumer) && sub != nil {
		pendingMsgs, pendingBytes, err := sub.Pending()
		if err != nil {
			slog.Error("failed to get pending messages", "err", err.Error())
			return
		}
		droppedMsgs, err := sub.Dropped()
		if err != nil {
			slog.Error("failed to get dropped messages", "err", err.Error())
			return
		}
		slog.Error("falling behind with pending messages",
			"droppedMsgs", droppedMsgs,
			"pendingMsgs", pendingMsgs,
			"pendingBytes", pendingBytes,
			"subject", sub.Subject,
		)
	}
}

func disconnectHandler(nc *nats.Conn, err error) {
	slog.Debug("nats disconnected", "err", err)
}

func reconnectHandler(nc *nats.Conn) {
	slog.Debug("nats reconnected", "url", nc.ConnectedUrl())
}

func closedHandler(nc *nats.Conn) {
	slog.Debug("nats connection closed", "reason", nc.LastError())
}
