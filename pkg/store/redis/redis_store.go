package redistore

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/singhmantoshkumar22/cjdquick-app-sub005/pkg/store"
)

var (
	DEL_SCRIPT = redis.NewScript(0, `for i, k in ipairs(redis.call('KEYS', ARGV[1])) do redis.call('DEL', k) end`)
)

type Store struct {
	pool *redis.Pool
}

func New(redisURL string) *Store {
	return &Store{
		pool: &redis.Pool{
			MaxActive: 5,
			MaxIdle:   5,
			Wait:      true,
			Dial: func() (redis.Conn, error) {
				return redis.DialURL(redisURL)
			},
		},
	}
}

func (s *Store) Name() string {
	return "redis"
}

// Pool is used by keyspace notifications and the job queue to share connections.
func (s *Store) Pool() *redis.Pool {
	return s.pool
}

func (s *Store) Get(key string) ([]byte, error) {
	c := s.pool.Get()
	defer c.Close()

	val, err := redis.Bytes(c.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, store.ErrNotFound
	}
	return val, err
}

func (s *Store) Set(key string, value []byte, options *store.WriteOptions) error {
	c := s.pool.Get()
	defer c.Close()

	if options != nil && options.TTL > 0 {
		_, err := c.Do("SETEX", key, options.TTL, value)
		return err
	}
	_, err := c.Do("SET", key, value)
	return err
}

func (s *Store) Delete(key string) error {
	c := s.pool.Get()
	defer c.Close()

	_, err := c.Do("DEL", key)
	return err
}

func (s *Store) DeleteAll(prefix string) error {
	defer debugDuration(time.Now(), "DEL_SCRIPT", prefix)

	c := s.pool.Get()
	defer c.Close()

	_, err := DEL_SCRIPT.Do(c, prefix+"*")
	return err
}

func (s *Store) Exists(key string) (bool, error) {
	c := s.pool.Get()
	defer c.Close()

	return redis.Bool(c.Do("EXISTS", key))
}

func (s *Store) Scan(prefix string, skip int, limit int, fn func(key string, val []byte)) error {
	defer debugDuration(time.Now(), "SCAN", prefix)

	c := s.pool.Get()
	defer c.Close()

	keys, err := s.keys(c, prefix)
	if err != nil {
		return err
	}
	// SCAN order is arbitrary, sort to honour skip and limit
	sort.Strings(keys)

	if skip > len(keys) {
		skip = len(keys)
	}
	keys = keys[skip:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	for _, key := range keys {
		val, err := redis.Bytes(c.Do("GET", key))
		if errors.Is(err, redis.ErrNil) {
			// deleted while scanning
			continue
		}
		if err != nil {
			return err
		}
		fn(key, val)
	}
	return nil
}

func (s *Store) Count(prefix string) int {
	c := s.pool.Get()
	defer c.Close()

	keys, err := s.keys(c, prefix)
	if err != nil {
		slog.Error("redis count failed", "prefix", prefix, "err", err.Error())
		return 0
	}
	return len(keys)
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) keys(c redis.Conn, prefix string) ([]string, error) {
	var (
		cursor int
		keys   []string
		all    []string
	)
	for {
		values, err := redis.Values(c.Do("SCAN", cursor, "MATCH", prefix+"*"))
		if err != nil {
			return nil, err
		}
		if _, err = redis.Scan(values, &cursor, &keys); err != nil {
			return nil, err
		}
		all = append(all, keys...)
		if cursor == 0 {
			break
		}
	}
	return all, nil
}

func debugDuration(start time.Time, cmd string, args ...interface{}) {
	elapsed := time.Since(start)
	slog.Debug("redis command", "cmd", cmd, "args", args, "took", elapsed.String())
}
