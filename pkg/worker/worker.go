package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/robfig/cron/v3"
)

const (
	redisNameing = "%s:%s:%s"

	TypeQueued    queueType = iota
	TypeScheduled queueType = iota
	TypePeriodic  queueType = iota

	idleWait     = 100 * time.Millisecond
	retryBackoff = 30 * time.Second
)

type Args map[string]interface{}

type queueType int

type Job struct {
	Queue       string     `json:"queue"`
	Args        Args       `json:"args"`
	BatchID     string     `json:"batch_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	RunAt       *time.Time `json:"run_at,omitempty"`
	Cron        string     `json:"cron,omitempty"`
	Retry       int64      `json:"retry"`
	Attempt     int64      `json:"attempt"`
	Type        queueType  `json:"type"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
}

type HandlerFunc func(ctx context.Context, args Args) error

// Dispatcher pulls jobs from redis lists and sorted sets and hands them to a fixed
// number of workers. A failing job with retries left is rescheduled with a linear
// backoff, otherwise it lands on the queue's error list.
type Dispatcher struct {
	WorkerPool chan chan Job
	MaxWorkers int
	Backoff    time.Duration

	redisPool  *redis.Pool
	namespace  string
	queueTasks map[string]HandlerFunc
	queues     []string
	lastQueue  int
}

func newRedisPool(redisURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.DialURL(redisURL) },
	}
}

func NewDispatcher(namespace, redisURL string, maxWorkers int) *Dispatcher {
	return NewDispatcherWithPool(namespace, newRedisPool(redisURL), maxWorkers)
}

// NewDispatcherWithPool shares an existing redis pool, e.g. the one of the rule store.
func NewDispatcherWithPool(namespace string, pool *redis.Pool, maxWorkers int) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Dispatcher{
		WorkerPool: make(chan chan Job, maxWorkers),
		MaxWorkers: maxWorkers,
		Backoff:    retryBackoff,
		redisPool:  pool,
		namespace:  namespace,
		queueTasks: make(map[string]HandlerFunc),
	}
}

// AddHandler registers the handler of a queue. Handlers must be added before Run.
func (d *Dispatcher) AddHandler(queue string, fn HandlerFunc) {
	if _, ok := d.queueTasks[queue]; !ok {
		d.queues = append(d.queues, queue)
	}
	d.queueTasks[queue] = fn
}

func (d *Dispatcher) Close() error {
	return d.redisPool.Close()
}

// Run starts the workers and dispatches jobs until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.MaxWorkers; i++ {
		w := &worker{d: d, jobs: make(chan Job)}
		go w.start(ctx)
	}
	d.dispatch(ctx)
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// wait for an idle worker before taking a job off redis
		var jobChannel chan Job
		select {
		case jobChannel = <-d.WorkerPool:
		case <-ctx.Done():
			return
		}

		j := d.getNextJob()
		if j == nil {
			// hand the worker back, nothing to do for now
			d.WorkerPool <- jobChannel
			select {
			case <-time.After(idleWait):
			case <-ctx.Done():
				return
			}
			continue
		}
		jobChannel <- *j
	}
}

type worker struct {
	d    *Dispatcher
	jobs chan Job
}

func (w *worker) start(ctx context.Context) {
	for {
		select {
		case w.d.WorkerPool <- w.jobs:
		case <-ctx.Done():
			return
		}

		select {
		case job := <-w.jobs:
			var err error
			if fn, ok := w.d.queueTasks[job.Queue]; ok {
				err = w.d.run(ctx, fn, job)
			} else {
				err = fmt.Errorf("no handler for queue %s", job.Queue)
			}
			w.d.removeFromWorking(job, err)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, fn HandlerFunc, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, job.Args)
}

func (d *Dispatcher) removeFromWorking(job Job, runErr error) {
	rn := d.redisName(job.Queue, job.Type)

	rawData, err := json.Marshal(job)
	if err != nil {
		slog.Error("failed to encode job", "queue", job.Queue, "err", err.Error())
		return
	}

	lua :=
		`
		local working = KEYS[1] .. ":working"
		local queue = KEYS[2]

		local taskCount = redis.call("LREM", working, -1, ARGV[1])
		if queue ~= "" then redis.call("RPUSH", queue, ARGV[2]) end

		return taskCount
		`

	queue := ""
	processedTime := time.Now().UTC()
	job.ProcessedAt = &processedTime

	if runErr != nil {
		job.Error = runErr.Error()
		if job.Attempt < job.Retry {
			d.retry(job)
		} else {
			queue = getRedisNameForError(d.namespace, job.Queue)
			slog.Warn("job failed", "queue", job.Queue, "attempt", job.Attempt, "err", job.Error)
		}
	}

	processedData, err := json.Marshal(job)
	if err != nil {
		slog.Error("failed to encode job", "queue", job.Queue, "err", err.Error())
		return
	}

	conn := d.redisPool.Get()
	defer conn.Close()

	luaScript := redis.NewScript(2, lua)
	_, err = luaScript.Do(conn, rn, queue, rawData, processedData)
	if err != nil {
		slog.Error("failed to remove job from working list", "queue", job.Queue, "err", err.Error())
	}
}

func (d *Dispatcher) retry(job Job) {
	job.Attempt++
	job.Type = TypeScheduled
	job.ProcessedAt = nil
	runAt := time.Now().UTC().Add(time.Duration(job.Attempt) * d.Backoff)
	job.RunAt = &runAt

	slog.Debug("job rescheduled", "queue", job.Queue, "attempt", job.Attempt, "runAt", runAt)
	if err := d.EnqueueJob(&job); err != nil {
		slog.Error("failed to reschedule job", "queue", job.Queue, "err", err.Error())
	}
}

// EnqueueJob adds a job to its queue: queued jobs run as soon as a worker is idle,
// scheduled jobs at RunAt, periodic jobs on every Cron tick.
func (d *Dispatcher) EnqueueJob(job *Job) error {
	rawData, err := json.Marshal(job.Args)
	if err != nil {
		return err
	}
	// let Args loose their types so jobs encode the same way after a round trip
	job.Args = nil
	err = json.Unmarshal(rawData, &job.Args)
	if err != nil {
		return err
	}
	if job.CreatedAt == nil {
		now := time.Now().UTC()
		job.CreatedAt = &now
	}

	conn := d.redisPool.Get()
	defer conn.Close()

	switch job.Type {
	case TypePeriodic:
		if len(job.Cron) == 0 {
			return fmt.Errorf("periodic job on %s without cron", job.Queue)
		}
		if err := calculateNextPeriodic(job); err != nil {
			return err
		}
		rawData, err = json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = conn.Do("ZADD", getRedisNameForPeriodic(d.namespace, job.Queue), job.RunAt.Unix(), rawData)
	case TypeScheduled:
		if job.RunAt == nil {
			return fmt.Errorf("scheduled job on %s without run_at", job.Queue)
		}
		rawData, err = json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = conn.Do("ZADD", getRedisNameForSchedule(d.namespace, job.Queue), job.RunAt.Unix(), rawData)
	default:
		rawData, err = json.Marshal(job)
		if err != nil {
			return err
		}
		_, err = conn.Do("RPUSH", getRedisNameForQueue(d.namespace, job.Queue), rawData)
	}
	return err
}

func (d *Dispatcher) RemoveQueue(queue string, queueType queueType) error {
	rn := d.redisName(queue, queueType)

	conn := d.redisPool.Get()
	defer conn.Close()

	_, err := conn.Do("DEL", rn, rn+":working")
	return err
}

func NewScheduledJob(queue string, when string, args Args) (*Job, error) {
	d, err := time.ParseDuration(when)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	runAt := now.Add(d)
	return &Job{
		Queue:     queue,
		Args:      args,
		CreatedAt: &now,
		RunAt:     &runAt,
		Type:      TypeScheduled,
	}, nil
}

func calculateNextPeriodic(job *Job) error {
	// standard parser with descriptors
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(job.Cron)
	if err != nil {
		return fmt.Errorf("job cron %q: %w", job.Cron, err)
	}
	runAt := s.Next(time.Now())
	job.RunAt = &runAt
	return nil
}

func (d *Dispatcher) redisName(queue string, queueType queueType) string {
	switch queueType {
	case TypePeriodic:
		return getRedisNameForPeriodic(d.namespace, queue)
	case TypeScheduled:
		return getRedisNameForSchedule(d.namespace, queue)
	}
	return getRedisNameForQueue(d.namespace, queue)
}

func getRedisNameForQueue(namespace, name string) string {
	return fmt.Sprintf(redisNameing, namespace, name, "queue")
}

func getRedisNameForSchedule(namespace, name string) string {
	return fmt.Sprintf(redisNameing, namespace, name, "schedule")
}

func getRedisNameForPeriodic(namespace, name string) string {
	return fmt.Sprintf(redisNameing, namespace, name, "periodic")
}

func getRedisNameForCancelled(namespace, name string) string {
	return fmt.Sprintf(redisNameing, namespace, name, "cancelled")
}

func getRedisNameForError(namespace, name string) string {
	return fmt.Sprintf(redisNameing, namespace, name, "error")
}

// getNextJob walks the registered queues round robin, starting after the last queue
// that produced a job.
func (d *Dispatcher) getNextJob() *Job {
	n := len(d.queues)
	for i := 1; i <= n; i++ {
		idx := (d.lastQueue + i) % n
		if job := d.getNextJobForQueue(d.queues[idx]); job != nil {
			d.lastQueue = idx
			return job
		}
	}
	return nil
}

func (d *Dispatcher) getNextJobForQueue(queue string) *Job {
	if job := d.getJobFromPeriodic(queue); job != nil {
		return job
	} else if job := d.getJobFromSchedule(queue); job != nil {
		return job
	} else if job := d.getJobFromQueue(queue); job != nil {
		return job
	}
	return nil
}

const popQueueLua = `
	local queue = KEYS[1]
	local working = queue .. ":working"

	local data = redis.call("LPOP", queue)
	if not data then
		return ''
	end

	redis.call("RPUSH", working, data)
	return data
	`

const popDueLua = `
	local queue = KEYS[1]
	local working = queue .. ":working"

	local data = redis.call("ZRANGEBYSCORE", queue, 0, ARGV[1], "LIMIT", 0, 1)
	if data[1] == nil then
		return ''
	end

	local job = data[1]
	redis.call("ZREM", queue, job)
	redis.call("RPUSH", working, job)
	return job
	`

func (d *Dispatcher) pop(script string, key string, args ...interface{}) *Job {
	conn := d.redisPool.Get()
	defer conn.Close()

	luaScript := redis.NewScript(1, script)
	result, err := redis.Bytes(luaScript.Do(conn, append([]interface{}{key}, args...)...))
	if err != nil {
		slog.Error("failed to pop job", "queue", key, "err", err.Error())
		return nil
	}
	if len(result) == 0 {
		return nil
	}

	job := &Job{}
	if err := json.Unmarshal(result, job); err != nil {
		slog.Error("failed to decode job", "queue", key, "err", err.Error())
		return nil
	}
	return job
}

func (d *Dispatcher) getJobFromQueue(queue string) *Job {
	return d.pop(popQueueLua, getRedisNameForQueue(d.namespace, queue))
}

func (d *Dispatcher) getJobFromSchedule(queue string) *Job {
	return d.pop(popDueLua, getRedisNameForSchedule(d.namespace, queue), time.Now().Unix())
}

func (d *Dispatcher) getJobFromPeriodic(queue string) *Job {
	job := d.pop(popDueLua, getRedisNameForPeriodic(d.namespace, queue), time.Now().Unix())
	if job == nil {
		return nil
	}

	// queue the next run before this one executes
	next := *job
	if err := d.EnqueueJob(&next); err != nil {
		slog.Error("failed to enqueue next periodic job", "queue", queue, "err", err.Error())
	}
	return job
}

// ListJobs returns the jobs of a queue, pending or on one of its lists (error, cancelled).
func (d *Dispatcher) ListJobs(queueName string) ([]*Job, error) {
	conn := d.redisPool.Get()
	defer conn.Close()

	cmd := "ZRANGE"
	if strings.HasSuffix(queueName, ":error") || strings.HasSuffix(queueName, ":cancelled") ||
		strings.HasSuffix(queueName, ":queue") || strings.HasSuffix(queueName, ":working") {
		cmd = "LRANGE"
	}

	values, err := redis.ByteSlices(conn.Do(cmd, queueName, 0, -1))
	if err != nil {
		return nil, err
	}

	result := make([]*Job, 0, len(values))
	for _, task := range values {
		job := &Job{}
		if err := json.Unmarshal(task, job); err != nil {
			slog.Warn("skipping undecodable job", "queue", queueName, "err", err.Error())
			continue
		}
		result = append(result, job)
	}
	return result, nil
}

// ErrorList is the list failed jobs of queue end up on.
func (d *Dispatcher) ErrorList(queue string) string {
	return getRedisNameForError(d.namespace, queue)
}

// QueueList is the list queued jobs of queue wait on.
func (d *Dispatcher) QueueList(queue string) string {
	return getRedisNameForQueue(d.namespace, queue)
}

func (d *Dispatcher) CancelBatch(queue string, batchID string, cancelledBy string) (int64, error) {
	conn := d.redisPool.Get()
	defer conn.Close()
	queueName := getRedisNameForSchedule(d.namespace, queue)
	cancelledQueue := getRedisNameForCancelled(d.namespace, queue)

	lua :=
		`
	local queue = KEYS[1]
	local cancelled = KEYS[2]
	local count = 0

	local tasks = redis.call("ZRANGE", queue, 0, -1)

	for i, job in ipairs(tasks) do
		local obj = cjson.decode(job)
		if(obj["batch_id"] == ARGV[1])
		then
			redis.pcall("ZREM", queue, job)
			obj["cancelled_at"] = ARGV[2]
			obj["cancelled_by"] = ARGV[3]
			redis.pcall("RPUSH", cancelled, cjson.encode(obj))
			count = count+1
		end
	end

	return count
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	luaScript := redis.NewScript(2, lua)
	return redis.Int64(luaScript.Do(conn, queueName, cancelledQueue, batchID, now, cancelledBy))
}
