package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Bus is a bounded-worker async event bus for audit events. Publishing is
// best effort: a full queue drops the event rather than stalling an
// authentication request, so nothing here is load-bearing for correctness.
type Bus struct {
	bus       evbus.Bus
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// New creates a Bus with the given number of workers.
func New(workerNum int) *Bus {
	if workerNum <= 0 {
		workerNum = 4
	}
	return &Bus{
		bus:       evbus.New(),
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, 1000),
		stopChan:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		for i := 0; i < b.workerNum; i++ {
			b.wg.Add(1)
			go b.worker()
		}
	})
}

// Stop drains the workers and waits for them to exit.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()
}

func (b *Bus) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopChan:
			return
		case event := <-b.workChan:
			func() {
				defer func() {
					// A panicking subscriber must not take the worker down.
					_ = recover()
				}()
				b.bus.Publish(event.topic, event.args...)
			}()
		}
	}
}

// Publish delivers the event synchronously to all subscribers.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

// PublishAsync queues the event for the worker pool, dropping it when full.
func (b *Bus) PublishAsync(topic string, args ...interface{}) {
	select {
	case b.workChan <- asyncEvent{topic: topic, args: args}:
	default:
	}
}

// Subscribe registers a handler for the topic.
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// Unsubscribe removes a handler.
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// HasCallback reports whether the topic has subscribers.
func (b *Bus) HasCallback(topic string) bool {
	return b.bus.HasCallback(topic)
}
