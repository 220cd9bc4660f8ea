package portal

import (
	"testing"
	"time"
)

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Now()}
	b := newHostBreaker(3, 300*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		if !b.Allow("portal.example") {
			t.Fatalf("call %d: breaker should still be closed", i)
		}
		b.Failure("portal.example")
	}

	if b.Allow("portal.example") {
		t.Fatal("breaker should be open after three failures")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Now()}
	b := newHostBreaker(3, 300*time.Second, clock.now)

	b.Failure("portal.example")
	b.Failure("portal.example")
	b.Success("portal.example")
	b.Failure("portal.example")
	b.Failure("portal.example")

	if !b.Allow("portal.example") {
		t.Fatal("success must reset the consecutive-failure count")
	}
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Now()}
	b := newHostBreaker(3, 300*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		b.Failure("portal.example")
	}
	if b.Allow("portal.example") {
		t.Fatal("breaker should be open")
	}

	clock.advance(301 * time.Second)

	if !b.Allow("portal.example") {
		t.Fatal("cooldown elapsed: one probe must be admitted")
	}
	if b.Allow("portal.example") {
		t.Fatal("half-open admits exactly one probe")
	}

	b.Success("portal.example")
	if !b.Allow("portal.example") {
		t.Fatal("successful half-open probe must close the breaker")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Now()}
	b := newHostBreaker(3, 300*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		b.Failure("portal.example")
	}
	clock.advance(301 * time.Second)

	if !b.Allow("portal.example") {
		t.Fatal("expected the half-open probe")
	}
	b.Failure("portal.example")

	if b.Allow("portal.example") {
		t.Fatal("half-open failure must reopen immediately")
	}
}

func TestBreakerIsolatesHosts(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Now()}
	b := newHostBreaker(3, 300*time.Second, clock.now)

	for i := 0; i < 3; i++ {
		b.Failure("a.example")
	}
	if b.Allow("a.example") {
		t.Fatal("a.example should be open")
	}
	if !b.Allow("b.example") {
		t.Fatal("b.example must be unaffected")
	}
}
