package streams

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	FETCH_NO_WAIT = 100000
	MAX_BYTES     = 1000000000 // 1 GiB
)

// Stream wraps one JetStream stream over a lazily opened, shared connection.
type Stream struct {
	sync.Mutex
	streamName          string
	natsURL             string
	natsNkeyUser        string
	natsNkeySeed        string
	natsCredentialsPath string

	nc *nats.Conn
	js jetstream.JetStream
}

func NewStream(url, streamName string) *Stream {
	return &Stream{
		natsURL:    url,
		streamName: streamName,
	}
}

func (this *Stream) SetNKeys(user, seed string) {
	this.natsNkeyUser = user
	this.natsNkeySeed = seed
}

func (this *Stream) SetCredentialsPath(path string) {
	this.natsCredentialsPath = path
}

func (this *Stream) Name() string {
	return this.streamName
}

// ConnectOptions returns the nats options for the configured authentication.
func (this *Stream) ConnectOptions() []nats.Option {
	// connect with nkeys if specified
	if len(this.natsNkeyUser) > 0 && len(this.natsNkeySeed) > 0 {
		seed := this.natsNkeySeed
		return []nats.Option{nats.Nkey(this.natsNkeyUser, func(b []byte) ([]byte, error) {
			return NKeySignatureHandler(seed, b)
		})}
	}

	// connect with credentials if exists
	if len(this.natsCredentialsPath) > 0 {
		if _, err := os.Stat(this.natsCredentialsPath); err == nil {
			return []nats.Option{nats.UserCredentials(this.natsCredentialsPath)}
		}
	}

	return nil
}

func (this *Stream) jetstream() (jetstream.JetStream, error) {
	this.Lock()
	defer this.Unlock()

	if this.js != nil && this.nc.IsConnected() {
		return this.js, nil
	}
	if this.nc != nil {
		this.nc.Close()
	}

	nc, err := nats.Connect(this.natsURL, this.ConnectOptions()...)
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	this.nc, this.js = nc, js
	return js, nil
}

func (this *Stream) stream(ctx context.Context) (jetstream.Stream, error) {
	js, err := this.jetstream()
	if err != nil {
		return nil, err
	}
	return js.Stream(ctx, this.streamName)
}

// CreateStream creates the stream, or updates its subjects when it exists.
func (this *Stream) CreateStream(ctx context.Context, subjects []string) (jetstream.Stream, error) {
	js, err := this.jetstream()
	if err != nil {
		return nil, err
	}

	return js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     this.streamName,
		Subjects: subjects,
		MaxBytes: MAX_BYTES,
	})
}

func (this *Stream) Publish(ctx context.Context, subject string, payload []byte, headers map[string]string) (*jetstream.PubAck, error) {
	js, err := this.jetstream()
	if err != nil {
		return nil, err
	}

	msg := &nats.Msg{Subject: subject, Data: payload, Header: nats.Header{}}
	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	start := time.Now()
	pa, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return nil, err
	}

	slog.Debug("publish message",
		"elapsed", getElapsed(start),
		"subject", subject,
		"streamName", this.streamName,
	)

	return pa, nil
}

// FetchLastMessageBySubject returns the latest payload on subject, nil when the
// subject holds no message.
func (this *Stream) FetchLastMessageBySubject(ctx context.Context, subject string) ([]byte, error) {
	s, err := this.stream(ctx)
	if err != nil {
		return nil, err
	}

	m, err := s.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

// FetchLastMessagePerSubject returns the latest payload of every subject matching
// filter, keyed by subject.
func (this *Stream) FetchLastMessagePerSubject(ctx context.Context, filter string) (map[string][]byte, error) {
	start := time.Now()
	s, err := this.stream(ctx)
	if err != nil {
		return nil, err
	}

	consumer, err := s.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return nil, err
	}

	mb, err := consumer.FetchNoWait(FETCH_NO_WAIT)
	if err != nil {
		return nil, err
	}

	res := make(map[string][]byte)
	for m := range mb.Messages() {
		res[m.Subject()] = m.Data()
	}
	if err := mb.Error(); err != nil {
		return nil, err
	}

	slog.Debug("fetch last message per subject",
		"filter", filter,
		"elapsed", getElapsed(start),
		"count", len(res),
	)

	return res, nil
}

// PurgeSubject drops every message stored on subject.
func (this *Stream) PurgeSubject(ctx context.Context, subject string) error {
	s, err := this.stream(ctx)
	if err != nil {
		return err
	}
	return s.Purge(ctx, jetstream.WithPurgeSubject(subject))
}

func (this *Stream) Close() {
	this.Lock()
	defer this.Unlock()

	if this.nc != nil {
		this.nc.Close()
		this.nc, this.js = nil, nil
	}
}
