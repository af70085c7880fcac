package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"haul/internal/logging"
	"haul/internal/modules/actor"
	"haul/internal/modules/booking"
	"haul/internal/modules/matching"
	"haul/internal/types"
)

type stubMatcher struct {
	mu      sync.Mutex
	driver  types.ID
	err     error
	queries int
}

func (m *stubMatcher) FindBestDriver(_ context.Context, _ types.VehicleClass, _ types.Point) (*matching.Candidate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.err != nil {
		return nil, false, m.err
	}
	if m.driver == "" {
		return nil, false, nil
	}
	return &matching.Candidate{Driver: actor.Driver{Actor: actor.Actor{ID: m.driver}}}, true, nil
}

// memJournal blocks every write until release is closed, when release is set.
type memJournal struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	err     error
	release chan struct{}
}

func (j *memJournal) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.msgs = append(j.msgs, msgs...)
	return nil
}

func (j *memJournal) written() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.msgs)
}

func pendingEvent(kind booking.EventKind, from booking.Status) booking.DomainEvent {
	return booking.DomainEvent{
		Kind: kind,
		Booking: booking.Booking{
			ID: "b1", VehicleClass: types.VehicleTruck, Status: booking.StatusPending,
			Pickup: types.Place{Label: "depot", Point: types.Point{Lat: 12.9, Lng: 77.6}},
		},
		From: from,
		To:   booking.StatusPending,
	}
}

func TestRelayDispatchesPendingBookings(t *testing.T) {
	bus, _ := newTestBus(t)
	driver := NewSubscriber(4)
	bus.Hub().Subscribe(DriverChannel("d1"), driver)
	matcher := &stubMatcher{driver: "d1"}
	journal := &memJournal{}
	relay := NewRelay(bus, matcher, journal, logging.Discard())

	relay.Handle(context.Background(), pendingEvent(booking.EventCreated, booking.StatusNone))

	m := decode(t, <-driver.C())
	if m.Type != TypeBookingRequest || m.Request == nil || m.Request.ID != "b1" {
		t.Fatalf("unexpected offer %+v", m)
	}
	select {
	case msg := <-relay.records:
		if string(msg.Key) != "b1" {
			t.Fatalf("journal record must be keyed by booking, got %q", msg.Key)
		}
	default:
		t.Fatal("expected one queued journal record")
	}
}

func TestRelayPromotionBroadcastsStatusAndDispatches(t *testing.T) {
	bus, _ := newTestBus(t)
	rider := NewSubscriber(4)
	bus.Hub().Subscribe(BookingChannel("b1"), rider)
	matcher := &stubMatcher{}
	relay := NewRelay(bus, matcher, nil, logging.Discard())

	relay.Handle(context.Background(), pendingEvent(booking.EventStatusChanged, booking.StatusScheduled))

	if m := decode(t, <-rider.C()); m.Type != TypeStatus || m.Status != booking.StatusPending {
		t.Fatalf("unexpected status message %+v", m)
	}
	if matcher.queries != 1 {
		t.Fatalf("promotion should trigger one match attempt, got %d", matcher.queries)
	}
}

func TestRelayNonPendingSkipsMatching(t *testing.T) {
	bus, _ := newTestBus(t)
	matcher := &stubMatcher{driver: "d1"}
	relay := NewRelay(bus, matcher, nil, logging.Discard())

	e := pendingEvent(booking.EventStatusChanged, booking.StatusPending)
	e.To = booking.StatusAccepted
	relay.Handle(context.Background(), e)
	if matcher.queries != 0 {
		t.Fatalf("accepted booking must not be re-dispatched")
	}
}

func TestRelaySurvivesFailures(t *testing.T) {
	bus, _ := newTestBus(t)
	journal := &memJournal{err: errors.New("broker down")}
	relay := NewRelay(bus, &stubMatcher{err: errors.New("db down")}, journal, logging.Discard())
	relay.Handle(context.Background(), pendingEvent(booking.EventCreated, booking.StatusNone))
	relay.writeJournal(context.Background(), <-relay.records)
	if journal.written() != 0 {
		t.Fatalf("failed write must not be recorded")
	}
}

func statusEvent(to booking.Status) booking.DomainEvent {
	e := pendingEvent(booking.EventStatusChanged, booking.StatusPending)
	e.To = to
	return e
}

func TestRelaySlowJournalDoesNotDelayBroadcasts(t *testing.T) {
	bus, _ := newTestBus(t)
	rider := NewSubscriber(8)
	bus.Hub().Subscribe(BookingChannel("b1"), rider)
	journal := &memJournal{release: make(chan struct{})}
	relay := NewRelay(bus, nil, journal, logging.Discard())

	q := booking.NewQueue(8, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx, q.Events())

	start := time.Now()
	want := []booking.Status{booking.StatusAccepted, booking.StatusInProgress, booking.StatusCompleted}
	for _, st := range want {
		q.Emit(statusEvent(st))
	}
	for _, st := range want {
		select {
		case payload := <-rider.C():
			if m := decode(t, payload); m.Status != st {
				t.Fatalf("expected %s, got %+v", st, m)
			}
		case <-time.After(time.Second):
			t.Fatalf("status %s held up behind the journal", st)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("broadcasts took %v with a stalled journal", elapsed)
	}

	close(journal.release)
	deadline := time.Now().Add(2 * time.Second)
	for journal.written() != len(want) {
		if time.Now().After(deadline) {
			t.Fatalf("journal wrote %d of %d records", journal.written(), len(want))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelayDropsJournalRecordsWhenBacklogged(t *testing.T) {
	bus, _ := newTestBus(t)
	relay := NewRelay(bus, nil, &memJournal{release: make(chan struct{})}, logging.Discard())
	for i := 0; i < journalBuffer+5; i++ {
		relay.Handle(context.Background(), statusEvent(booking.StatusAccepted))
	}
	if n := len(relay.records); n != journalBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", journalBuffer, n)
	}
}

func TestRelayWithoutJournalQueuesNothing(t *testing.T) {
	bus, _ := newTestBus(t)
	relay := NewRelay(bus, nil, nil, logging.Discard())
	relay.Handle(context.Background(), statusEvent(booking.StatusAccepted))
	if relay.records != nil {
		t.Fatalf("no journal means no record buffer")
	}
}

func TestRelayRunConsumesQueue(t *testing.T) {
	bus, _ := newTestBus(t)
	driver := NewSubscriber(4)
	bus.Hub().Subscribe(DriverChannel("d1"), driver)
	relay := NewRelay(bus, &stubMatcher{driver: "d1"}, nil, logging.Discard())

	q := booking.NewQueue(4, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx, q.Events())
		close(done)
	}()

	q.Emit(pendingEvent(booking.EventCreated, booking.StatusNone))
	if m := decode(t, <-driver.C()); m.Request == nil {
		t.Fatalf("expected an offer, got %+v", m)
	}
	cancel()
	<-done
}
