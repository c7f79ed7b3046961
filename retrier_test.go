package ecusim

import (
	"context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

func noDelays() func() {
	origRetrySleep := retrySleep
	retrySleep = 0
	return func() {
		retrySleep = origRetrySleep
	}
}

type retryable struct {
	mu          sync.Mutex
	open        bool
	hasClosed   bool
	openErr     error
	openCalls   int
	startedChan chan struct{}
	stopChan    chan error
}

func (r *retryable) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openCalls++
	if r.openErr != nil {
		err := r.openErr
		r.openErr = nil
		return err
	}
	r.open = true
	return nil
}

func (r *retryable) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.hasClosed = true
	return nil
}

func (r *retryable) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *retryable) Start(ctx context.Context) error {
	r.startedChan <- struct{}{}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-r.stopChan:
		return err
	}
}

func (r *retryable) Name() string {
	return "retryable-test"
}

func TestRetry(t *testing.T) {
	defer noDelays()()
	r := retryable{
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	var retryErr error
	go func() {
		retryErr = retry(ctx, &r)
		wg.Done()
	}()
	// wait for start to be called
	<-r.startedChan
	assert.True(t, r.isOpen())

	// trigger start to exit with no error
	r.stopChan <- nil
	<-r.startedChan
	assert.True(t, r.isOpen())

	// emulate an error being returned from start
	r.stopChan <- errors.New("fake error")
	<-r.startedChan
	// check that it was closed and re-opened
	assert.True(t, r.hasClosed)
	assert.True(t, r.isOpen())

	cancel()
	wg.Wait()
	assert.Equal(t, context.Canceled, retryErr)
	assert.False(t, r.isOpen(), "retry closes the connection when the context ends")
}

func TestRetryOpenFailure(t *testing.T) {
	defer noDelays()()
	r := retryable{
		openErr:     errors.New("port busy"),
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = retry(ctx, &r)
		close(done)
	}()
	<-r.startedChan
	r.mu.Lock()
	assert.Equal(t, 2, r.openCalls)
	r.mu.Unlock()
	cancel()
	<-done
}
