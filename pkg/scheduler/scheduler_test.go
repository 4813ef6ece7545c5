package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/scheduler"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()

	s, err := scheduler.NewScheduler()
	require.NoError(t, err)

	s.Start()
	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestScheduler_RunNow(t *testing.T) {
	s := newScheduler(t)

	var runs atomic.Int32

	require.NoError(t, s.AddInterval("sweep", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.RunNow("sweep"))

	require.Eventually(t, func() bool {
		info, err := s.GetJobInfoByName("sweep")
		return err == nil && info.Runs == 1 && !info.LastSuccess.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	assert.EqualValues(t, 1, runs.Load())
}

func TestScheduler_RecordsError(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.AddInterval("gc", time.Hour, func(context.Context) error {
		return errors.New("disk busy")
	}))
	require.NoError(t, s.RunNow("gc"))

	require.Eventually(t, func() bool {
		info, _ := s.GetJobInfoByName("gc")
		return info.Status == scheduler.StatusError && info.Error == "disk busy"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_RecoversPanic(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.AddInterval("boom", time.Hour, func(context.Context) error {
		panic("oops")
	}))
	require.NoError(t, s.RunNow("boom"))

	require.Eventually(t, func() bool {
		info, _ := s.GetJobInfoByName("boom")
		return info.Status == scheduler.StatusError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_DuplicateAndRemove(t *testing.T) {
	s := newScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.AddCron("nightly", "0 3 * * *", noop))
	require.Error(t, s.AddCron("nightly", "0 4 * * *", noop))
	require.Error(t, s.AddInterval("zero", 0, noop))

	infos := s.GetJobInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, "0 3 * * *", infos[0].Schedule)

	require.NoError(t, s.RemoveJobByName("nightly"))
	require.Error(t, s.RemoveJobByName("nightly"))
	require.Error(t, s.RunNow("nightly"))
	assert.Empty(t, s.GetJobInfos())
}
