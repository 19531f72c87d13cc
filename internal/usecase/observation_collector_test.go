package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RatingFlow/internal/domain/models"
	mid "RatingFlow/internal/middleware"
)

type fakeStream struct {
	mu           sync.Mutex
	reads        int
	reconnects   int
	connected    bool
	recChs       []chan *models.ObservationRecord
	errChs       []chan error
	reconnectErr error
}

func (f *fakeStream) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeStream) Subscribe(ctx context.Context) error { return nil }

func (f *fakeStream) Read(ctx context.Context) (<-chan *models.ObservationRecord, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rc := make(chan *models.ObservationRecord, 4)
	ec := make(chan error, 1)
	f.recChs = append(f.recChs, rc)
	f.errChs = append(f.errChs, ec)
	f.reads++
	return rc, ec
}

func (f *fakeStream) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return f.reconnectErr
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) counts() (reads, reconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.reconnects
}

func (f *fakeStream) channels(i int) (chan *models.ObservationRecord, chan error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.recChs) {
		return nil, nil, false
	}
	return f.recChs[i], f.errChs[i], true
}

type recordSink struct {
	mu   sync.Mutex
	recs []*models.ObservationRecord
}

func (s *recordSink) Process(ctx context.Context, r *models.ObservationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCollectorResumesAfterStreamClose(t *testing.T) {
	stream := &fakeStream{}
	sink := &recordSink{}
	pipe := mid.NewIngestPipeline(sink, newFakeMetrics())
	c := NewObservationCollector(stream, nil, newFakeMetrics(), pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	rc, ec, ok := stream.channels(0)
	require.True(t, ok)
	close(rc)
	close(ec)

	// the collector reconnects and picks up fresh channels
	waitFor(t, "reconnect", func() bool { _, n := stream.counts(); return n >= 1 })
	waitFor(t, "second read", func() bool { n, _ := stream.counts(); return n >= 2 })

	rc2, _, ok := stream.channels(1)
	require.True(t, ok)
	rc2 <- &models.ObservationRecord{EntityID: "e1", Period: 0, Grade: "A", Weight: 1}

	waitFor(t, "record delivery", func() bool { return sink.count() == 1 })
	assert.Equal(t, "e1", sink.recs[0].EntityID)
}

func TestCollectorStopsWhenReconnectFails(t *testing.T) {
	stream := &fakeStream{reconnectErr: context.DeadlineExceeded}
	sink := &recordSink{}
	pipe := mid.NewIngestPipeline(sink, newFakeMetrics())
	c := NewObservationCollector(stream, nil, newFakeMetrics(), pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	rc, ec, ok := stream.channels(0)
	require.True(t, ok)
	close(rc)
	close(ec)

	waitFor(t, "reconnect attempt", func() bool { _, n := stream.counts(); return n >= 1 })
	time.Sleep(50 * time.Millisecond)
	reads, _ := stream.counts()
	assert.Equal(t, 1, reads, "consume loop exits instead of spinning on the closed channel")
	assert.Equal(t, 0, sink.count())
}
