package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := New(zap.NewNop(), Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) (int, error) {
			runs.Add(1)
			return 1, nil
		},
	})

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after Stop")
}

func TestSchedulerSkipsDisabledJobs(t *testing.T) {
	var runs atomic.Int32
	s := New(nil, Job{
		Name: "off",
		Run: func(context.Context) (int, error) {
			runs.Add(1)
			return 0, nil
		},
	})
	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	assert.Zero(t, runs.Load())
}

func TestRunOnceLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(zap.New(core))

	s.RunOnce(context.Background(), Job{Name: "sweep", Run: func(context.Context) (int, error) {
		return 0, errors.New("database gone")
	}})
	s.RunOnce(context.Background(), Job{Name: "drain", Run: func(context.Context) (int, error) {
		return 4, nil
	}})
	s.RunOnce(context.Background(), Job{Name: "idle", Run: func(context.Context) (int, error) {
		return 0, nil
	}})

	failed := logs.FilterMessage("job failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "sweep", failed[0].ContextMap()["job"])

	done := logs.FilterMessage("job completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(4), done[0].ContextMap()["count"])
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	s := New(nil)
	var deadline bool
	s.RunOnce(context.Background(), Job{Name: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) (int, error) {
		_, deadline = ctx.Deadline()
		<-ctx.Done()
		return 0, ctx.Err()
	}})
	assert.True(t, deadline)
}
