package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/comanager/pkg/utils/async"
	"github.com/m-mizutani/gt"
)

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(ctx context.Context, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func TestDispatchRunsTasks(t *testing.T) {
	d := async.New(async.WithWorkers(2))

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		gt.True(t, d.Dispatch(context.Background(), "count", func(ctx context.Context) error {
			done.Add(1)
			return nil
		}))
	}

	d.Close()
	gt.Equal(t, done.Load(), int32(10))
}

func TestDispatchSurvivesCanceledParent(t *testing.T) {
	d := async.New()
	ctx, cancel := context.WithCancel(context.Background())

	var ctxErr atomic.Value
	release := make(chan struct{})
	d.Dispatch(ctx, "after-cancel", func(ctx context.Context) error {
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})

	cancel()
	close(release)
	d.Close()
	gt.V(t, ctxErr.Load()).Nil()
}

func TestTaskErrorsGoToHandler(t *testing.T) {
	sink := &errorSink{}
	d := async.New(async.WithErrorHandler(sink.handle))

	d.Dispatch(context.Background(), "fail", func(ctx context.Context) error {
		return errors.New("boom")
	})
	d.Dispatch(context.Background(), "panic", func(ctx context.Context) error {
		panic("oops")
	})

	d.Close()
	gt.Equal(t, sink.count(), 2)
}

func TestDispatchDropsWhenFull(t *testing.T) {
	sink := &errorSink{}
	d := async.New(async.WithWorkers(1), async.WithQueueSize(1), async.WithErrorHandler(sink.handle))

	block := make(chan struct{})
	started := make(chan struct{})
	d.Dispatch(context.Background(), "blocker", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	gt.True(t, d.Dispatch(context.Background(), "queued", func(ctx context.Context) error { return nil }))
	gt.False(t, d.Dispatch(context.Background(), "dropped", func(ctx context.Context) error { return nil }))

	close(block)
	d.Close()
	gt.Equal(t, sink.count(), 1)
}

func TestDispatchAfterClose(t *testing.T) {
	sink := &errorSink{}
	d := async.New(async.WithErrorHandler(sink.handle))
	d.Close()

	gt.False(t, d.Dispatch(context.Background(), "late", func(ctx context.Context) error { return nil }))
	gt.Equal(t, sink.count(), 1)
}
