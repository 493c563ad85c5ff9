// $ go test -run TestParser -v -count=1 pkg/worker/*.go

package worker

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser(t *testing.T) {
	j := &Job{
		Queue: "testParsing",
		Cron:  "0 2 * * *",
		Type:  TypePeriodic,
	}
	require.NoError(t, calculateNextPeriodic(j))
	require.NotNil(t, j.RunAt)
	assert.True(t, j.RunAt.After(time.Now()))
	assert.Equal(t, 2, j.RunAt.Hour())
	assert.Equal(t, 0, j.RunAt.Minute())

	assert.Error(t, calculateNextPeriodic(&Job{Cron: "every now and then"}))
}

func TestNewScheduledJob(t *testing.T) {
	j, err := NewScheduledJob("review", "90s", Args{"shipmentId": "SHP-1"})
	require.NoError(t, err)
	assert.Equal(t, TypeScheduled, j.Type)
	assert.WithinDuration(t, time.Now().Add(90*time.Second), *j.RunAt, 5*time.Second)

	_, err = NewScheduledJob("review", "soon", nil)
	assert.Error(t, err)
}

func TestRedisNames(t *testing.T) {
	d := NewDispatcher("allocator", "redis://localhost:6379", 1)
	assert.Equal(t, "allocator:review:queue", d.QueueList("review"))
	assert.Equal(t, "allocator:review:error", d.ErrorList("review"))
	assert.Equal(t, "allocator:review:schedule", d.redisName("review", TypeScheduled))
	assert.Equal(t, "allocator:review:periodic", d.redisName("review", TypePeriodic))
}

func TestWorker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	var queued, periodic, scheduled atomic.Int32
	counter := func(c *atomic.Int32) HandlerFunc {
		return func(ctx context.Context, args Args) error {
			c.Add(1)
			return nil
		}
	}

	d := NewDispatcher("worker_test", url, 10)
	defer d.Close()
	for _, q := range []string{"testQueued", "testPeriodic", "testScheduled", "testFailing"} {
		for _, qt := range []queueType{TypeQueued, TypeScheduled, TypePeriodic} {
			d.RemoveQueue(q, qt)
		}
	}
	conn := d.redisPool.Get()
	_, err := conn.Do("DEL", d.ErrorList("testFailing"))
	conn.Close()
	require.NoError(t, err)
	d.AddHandler("testQueued", counter(&queued))
	d.AddHandler("testPeriodic", counter(&periodic))
	d.AddHandler("testScheduled", counter(&scheduled))

	var failures atomic.Int32
	d.Backoff = 10 * time.Millisecond
	d.AddHandler("testFailing", func(ctx context.Context, args Args) error {
		failures.Add(1)
		return errors.New("carrier still not serviceable")
	})

	// queued
	for i := 0; i < 50; i++ {
		require.NoError(t, d.EnqueueJob(&Job{
			Queue: "testQueued",
			Type:  TypeQueued,
		}))
	}

	// periodic
	require.NoError(t, d.EnqueueJob(&Job{
		Queue: "testPeriodic",
		Cron:  "@every 1s",
		Type:  TypePeriodic,
	}))

	// scheduled
	j, err := NewScheduledJob("testScheduled", "1s", nil)
	require.NoError(t, err)
	require.NoError(t, d.EnqueueJob(j))

	// failing with one retry
	require.NoError(t, d.EnqueueJob(&Job{Queue: "testFailing", Type: TypeQueued, Retry: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool {
		return queued.Load() == 50 && scheduled.Load() == 1 && periodic.Load() >= 2
	}, 10*time.Second, 100*time.Millisecond)
	assert.Eventually(t, func() bool {
		jobs, err := d.ListJobs(d.ErrorList("testFailing"))
		return err == nil && len(jobs) == 1 && jobs[0].Attempt == 1
	}, 10*time.Second, 100*time.Millisecond)
	assert.Equal(t, int32(2), failures.Load())
}
