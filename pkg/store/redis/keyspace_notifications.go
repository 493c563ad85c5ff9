package redistore

import (
	"context"
	"strings"

	"github.com/gomodule/redigo/redis"
)

const (
	// E: keyevent events
	// g: generic commands
	// $: string commands
	knconfig = "Eg$"
	psubchan = "__keyevent@*__:*"
)

type KeyCallback func(key string, match string)

// KeyspaceNotifications fans key events out to every listener, so each process
// sharing the redis sees every change.
type KeyspaceNotifications struct {
	redisPool        *redis.Pool
	changedCallbacks map[string]KeyCallback
	deletedCallbacks map[string]KeyCallback
}

func NewKeyspaceNotifications(s *Store) *KeyspaceNotifications {
	return &KeyspaceNotifications{
		redisPool:        s.Pool(),
		changedCallbacks: make(map[string]KeyCallback),
		deletedCallbacks: make(map[string]KeyCallback),
	}
}

// Listen blocks dispatching key events to the registered callbacks until ctx is done
// or the connection fails. Callbacks must be registered before.
func (k *KeyspaceNotifications) Listen(ctx context.Context) error {
	// connection for pubsub
	pubSubConn := k.redisPool.Get()
	defer pubSubConn.Close()

	// set keyspace notifications config
	_, err := pubSubConn.Do("CONFIG", "SET", "notify-keyspace-events", knconfig)
	if err != nil {
		return err
	}

	psc := redis.PubSubConn{Conn: pubSubConn}
	err = psc.PSubscribe(psubchan)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		psc.PUnsubscribe()
	}()

	for {
		switch v := psc.Receive().(type) {
		case redis.Message:
			key := string(v.Data)
			switch parseRedisEvent(v.Channel) {
			case "set":
				k.dispatch(k.changedCallbacks, key)
			case "del":
				k.dispatch(k.deletedCallbacks, key)
			}

		case redis.Subscription:
			if v.Count == 0 {
				return ctx.Err()
			}

		case error:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return v
		}
	}
}

func (k *KeyspaceNotifications) KeyChanged(pattern string, cb KeyCallback) {
	k.changedCallbacks[pattern] = cb
}

func (k *KeyspaceNotifications) KeyDeleted(pattern string, cb KeyCallback) {
	k.deletedCallbacks[pattern] = cb
}

func (k *KeyspaceNotifications) dispatch(callbacks map[string]KeyCallback, key string) {
	for pattern, cb := range callbacks {
		if matched, match := match(pattern, key); matched {
			cb(key, match)
		}
	}
}

// match supports one trailing or inner "*", match is the part of value it covered.
func match(pattern string, value string) (matched bool, match string) {
	i := strings.Index(pattern, "*")
	if i > -1 {
		prefix, suffix := pattern[:i], pattern[i+1:]
		if strings.HasPrefix(value, prefix) && strings.HasSuffix(value[len(prefix):], suffix) {
			return true, value[i : len(value)-len(suffix)]
		}
		return false, ""
	}
	return pattern == value, value
}

// "__keyevent@3__:set" => "set"
func parseRedisEvent(channel string) string {
	if i := strings.LastIndex(channel, ":"); i > -1 {
		return channel[i+1:]
	}
	return ""
}
