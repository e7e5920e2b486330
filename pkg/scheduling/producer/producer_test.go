package producer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/joinq/internal/testutil"
	jqerrors "github.com/vnykmshr/joinq/pkg/common/errors"
	"github.com/vnykmshr/joinq/pkg/metrics"
	"github.com/vnykmshr/joinq/pkg/queue"
)

type put struct {
	operation string
	payload   any
	date      time.Time
}

// fakePutter records puts. If block is set, puts wait for ctx.
type fakePutter struct {
	mu    sync.Mutex
	puts  []put
	block bool
	ok    bool
}

func (f *fakePutter) PutContext(ctx context.Context, operation string, payload any, date time.Time) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, put{operation, payload, date})
	return f.ok, nil
}

func (f *fakePutter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func newCron(t *testing.T, p Putter, config Config) *Cron {
	t.Helper()
	c, err := New(p, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Stop(ctx))
	})
	return c
}

func TestNewRequiresPutter(t *testing.T) {
	c, err := New(nil, Config{})
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, jqerrors.ErrInvalidConfiguration))
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		spec  string
		valid bool
	}{
		{"*/5 * * * *", true},
		{"30 */5 * * * *", true},
		{"@hourly", true},
		{"@every 30s", true},
		{"0 9 * * 1-5", true},
		{"", false},
		{"not a spec", false},
		{"61 * * * *", false},
		{"* * * * * * *", false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSpec(tt.spec)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, jqerrors.IsValidationError(err))
		})
	}
}

func TestAddValidation(t *testing.T) {
	c := newCron(t, &fakePutter{ok: true}, Config{})

	_, err := c.Add("bogus", "scan", nil)
	assert.True(t, jqerrors.IsValidationError(err))

	_, err = c.Add("@hourly", "", nil)
	assert.True(t, jqerrors.IsValidationError(err))

	_, err = c.AddWithOptions("@hourly", "scan", nil, JobOptions{MaxRuns: -1})
	assert.True(t, jqerrors.IsValidationError(err))

	assert.Empty(t, c.Entries())
}

func TestEntriesAndRemove(t *testing.T) {
	c := newCron(t, &fakePutter{ok: true}, Config{Location: time.UTC})

	hourly, err := c.Add("@hourly", "rollup", nil)
	require.NoError(t, err)
	daily, err := c.Add("0 0 * * *", "report", nil)
	require.NoError(t, err)
	c.Start()

	entries := c.Entries()
	require.Len(t, entries, 2)
	byID := map[cron.EntryID]Job{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.Equal(t, "rollup", byID[hourly].Operation)
	assert.Equal(t, "@hourly", byID[hourly].Spec)
	assert.False(t, byID[hourly].Next.IsZero())
	assert.Equal(t, "report", byID[daily].Operation)

	c.Remove(hourly)
	c.Remove(hourly)

	entries = c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, daily, entries[0].ID)
}

func TestFirePutsItem(t *testing.T) {
	putter := &fakePutter{ok: true}
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	c := newCron(t, putter, Config{Name: "p", Metrics: reg})

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	c.now = func() time.Time { return at }

	id, err := c.Add("@hourly", "rollup", func(firedAt time.Time) any { return firedAt.Hour() })
	require.NoError(t, err)

	c.fire(c.jobs[id])

	require.Equal(t, 1, putter.count())
	got := putter.puts[0]
	assert.Equal(t, "rollup", got.operation)
	assert.Equal(t, 11, got.payload)
	assert.Equal(t, at.UTC(), got.date)
	assert.Equal(t, time.UTC, got.date.Location())
	assert.Equal(t, float64(1), promtest.ToFloat64(reg.ProducerFires.WithLabelValues("p", "rollup", ResultEnqueued)))
}

func TestFireDefaultPayloadIsFireTime(t *testing.T) {
	putter := &fakePutter{ok: true}
	c := newCron(t, putter, Config{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	id, err := c.Add("@hourly", "tick", nil)
	require.NoError(t, err)
	c.fire(c.jobs[id])

	require.Equal(t, 1, putter.count())
	assert.Equal(t, at, putter.puts[0].payload)
}

func TestFireRejected(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	c := newCron(t, &fakePutter{ok: false}, Config{Name: "p", Metrics: reg})

	id, err := c.Add("@hourly", "scan", nil)
	require.NoError(t, err)
	c.fire(c.jobs[id])

	assert.Equal(t, float64(1), promtest.ToFloat64(reg.ProducerFires.WithLabelValues("p", "scan", ResultRejected)))
}

func TestMaxRuns(t *testing.T) {
	putter := &fakePutter{ok: true}
	c := newCron(t, putter, Config{})

	id, err := c.AddWithOptions("@hourly", "scan", nil, JobOptions{MaxRuns: 2})
	require.NoError(t, err)
	j := c.jobs[id]

	c.fire(j)
	require.Len(t, c.Entries(), 1)
	assert.Equal(t, 1, c.Entries()[0].Runs)

	c.fire(j)
	assert.Empty(t, c.Entries())

	c.fire(j)
	assert.Equal(t, 2, putter.count(), "a retired job does not fire")
}

func TestScheduleFiresIntoQueue(t *testing.T) {
	q, err := queue.New(queue.Config{})
	require.NoError(t, err)
	c := newCron(t, q, Config{})

	_, err = c.Add("@every 1s", "heartbeat", func(time.Time) any { return "beat" })
	require.NoError(t, err)
	c.Start()

	testutil.Eventually(t, func() bool { return q.Len() >= 1 }, 3*time.Second, 20*time.Millisecond)

	item, ok := q.Get()
	require.True(t, ok)
	q.Acknowledge()
	assert.Equal(t, "heartbeat", item.Operation())
	assert.Equal(t, "beat", item.Payload())
	assert.Equal(t, time.UTC, item.ScheduledAt().Location())
}

func TestStopCancelsBlockedPut(t *testing.T) {
	putter := &fakePutter{block: true}
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	c, err := New(putter, Config{Name: "p", Metrics: reg})
	require.NoError(t, err)

	id, err := c.Add("@hourly", "scan", nil)
	require.NoError(t, err)

	fired := make(chan struct{})
	go func() {
		defer close(fired)
		c.fire(c.jobs[id])
	}()
	testutil.AssertBlocked(t, fired, 50*time.Millisecond)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	testutil.WaitDone(t, fired, time.Second)

	assert.Equal(t, float64(1), promtest.ToFloat64(reg.ProducerFires.WithLabelValues("p", "scan", ResultCanceled)))
}
