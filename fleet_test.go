package hyperq

import (
	"context"
	"testing"
	"time"
)

func TestStartFleetEndToEnd(t *testing.T) {
	log := &CountingBodyLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet, table, err := StartFleet(
		FleetParams{HyperThreads: 2, PreferredMessagesOfWorstCaseSize: 64},
		func(table *Table) error {
			_, err := Register[CountingBody, int, *CountingBodyLog, *CountingBody](table)
			return err
		},
		&Options{
			Context:     ctx,
			HandlerArgs: func(int) any { return log },
		},
	)
	if err != nil {
		t.Fatalf("StartFleet: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("table.Len() = %d, want 1", table.Len())
	}

	pub, err := NewPublisher[CountingBody, int, *CountingBodyLog, *CountingBody](fleet, 0)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := pub.Publish(i%2, i); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(log.Snapshot()) < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(log.Snapshot()); got != 10 {
		t.Fatalf("handled %d messages, want 10", got)
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	if err := fleet.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestStartFleetDefaultsToOneHyperThread(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fleet, _, err := StartFleet(FleetParams{}, func(table *Table) error {
		_, err := Register[CountingBody, int, *CountingBodyLog, *CountingBody](table)
		return err
	}, &Options{Context: ctx})
	if err != nil {
		t.Fatalf("StartFleet: %v", err)
	}
	defer fleet.Close()

	if _, ok := fleet.Queue(0); !ok {
		t.Fatal("expected a queue bound to hyper-thread 0")
	}
	if _, ok := fleet.Queue(1); ok {
		t.Fatal("expected no queue bound to hyper-thread 1 with HyperThreads unset")
	}
}

func TestStartFleetPropagatesRegistrationError(t *testing.T) {
	_, _, err := StartFleet(FleetParams{}, func(table *Table) error {
		if _, err := Register[CountingBody, int, *CountingBodyLog, *CountingBody](table); err != nil {
			return err
		}
		_, err := Register[CountingBody, int, *CountingBodyLog, *CountingBody](table)
		return err
	}, nil)
	if err == nil {
		t.Fatal("expected an error from a duplicate registration inside build")
	}
	if !IsKind(err, KindRegistration) {
		t.Fatalf("err kind = %v, want %v", err, KindRegistration)
	}
}
