package worker

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatrelay/pkg/eventstream"
	"github.com/papercomputeco/chatrelay/pkg/eventstream/nop"
)

// recordingPublisher keeps every published event in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.TurnCompletedEvent
	err    error
	closed bool
}

func (r *recordingPublisher) PublishTurn(_ context.Context, event *eventstream.TurnCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func newEvent(id string) *eventstream.TurnCompletedEvent {
	return &eventstream.TurnCompletedEvent{
		EventID: "evt-" + id,
		Request: eventstream.TurnRequest{RequestID: id},
		Result:  eventstream.TurnResult{Outcome: eventstream.OutcomeCompleted},
	}
}

var _ = Describe("Worker Pool", func() {
	var (
		wp  *Pool
		pub *recordingPublisher
	)

	BeforeEach(func() {
		logger, _ := zap.NewDevelopment()
		pub = &recordingPublisher{}

		var err error
		wp, err = NewPool(&Config{Publisher: pub, Logger: logger})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires a publisher", func() {
		_, err := NewPool(&Config{})
		Expect(err).To(MatchError("publisher is required"))
	})

	Describe("Enqueue", func() {
		It("returns true when the queue has capacity", func() {
			Expect(wp.Enqueue(Job{Event: newEvent("1")})).To(BeTrue())
			Expect(wp.Close()).To(Succeed())
		})

		It("rejects jobs without an event", func() {
			Expect(wp.Enqueue(Job{})).To(BeFalse())
			Expect(wp.Close()).To(Succeed())
		})

		It("rejects jobs after Close", func() {
			Expect(wp.Close()).To(Succeed())
			Expect(wp.Enqueue(Job{Event: newEvent("late")})).To(BeFalse())
		})

		It("drops jobs when the queue is full", func() {
			block := make(chan struct{})
			slow := &blockingPublisher{release: block, started: make(chan struct{})}
			small, err := NewPool(&Config{Publisher: slow, NumWorkers: 1, QueueSize: 1})
			Expect(err).NotTo(HaveOccurred())

			// One job in flight, one buffered, the third has nowhere to go.
			Expect(small.Enqueue(Job{Event: newEvent("a")})).To(BeTrue())
			Eventually(slow.started).Should(BeClosed())
			Expect(small.Enqueue(Job{Event: newEvent("b")})).To(BeTrue())
			Expect(small.Enqueue(Job{Event: newEvent("c")})).To(BeFalse())

			close(block)
			Expect(small.Close()).To(Succeed())
		})
	})

	Describe("Close", func() {
		It("drains every queued event before closing the publisher", func() {
			for _, id := range []string{"1", "2", "3", "4", "5"} {
				Expect(wp.Enqueue(Job{Event: newEvent(id)})).To(BeTrue())
			}
			Expect(wp.Close()).To(Succeed())

			Expect(pub.events).To(HaveLen(5))
			Expect(pub.closed).To(BeTrue())
		})

		It("is idempotent", func() {
			Expect(wp.Close()).To(Succeed())
			Expect(wp.Close()).To(Succeed())
		})
	})

	It("logs and drops publish failures", func() {
		pub.err = errors.New("broker down")
		Expect(wp.Enqueue(Job{Event: newEvent("1")})).To(BeTrue())
		Expect(wp.Close()).To(Succeed())
		Expect(pub.events).To(BeEmpty())
	})

	It("works with the no-op publisher", func() {
		p, err := NewPool(&Config{Publisher: nop.NewPublisher()})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Enqueue(Job{Event: newEvent("1")})).To(BeTrue())
		Expect(p.Close()).To(Succeed())
	})
})

// blockingPublisher blocks every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingPublisher) PublishTurn(_ context.Context, _ *eventstream.TurnCompletedEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func (b *blockingPublisher) Close() error { return nil }
