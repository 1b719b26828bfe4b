package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestKey_TitleAndMessage(t *testing.T) {
	k1 := Key("A", "body")
	if k1 != Key("A", "body") {
		t.Error("key should be deterministic")
	}
	if k1 == Key("B", "body") {
		t.Error("different title should produce different key")
	}
	if k1 == Key("A", "other body") {
		t.Error("different message should produce different key")
	}
	if len(k1) != len("A:")+32 {
		t.Errorf("unexpected key length %d", len(k1))
	}
}

func TestAlertCooldown_FiveSecondScenario(t *testing.T) {
	clock := newFakeClock()
	c := NewAlertCooldown(5 * time.Second)
	c.SetClock(clock.Now)
	key := Key("A", "same message")

	if !c.Admit(key) {
		t.Fatal("t=0: first alert should be admitted")
	}
	c.Record(key)

	clock.Advance(2 * time.Second)
	if c.Admit(key) {
		t.Fatal("t=2: duplicate within cooldown should be dropped")
	}

	clock.Advance(4 * time.Second)
	if !c.Admit(key) {
		t.Fatal("t=6: alert after cooldown should be admitted")
	}
}

func TestAlertCooldown_DifferentKeysIndependent(t *testing.T) {
	c := NewAlertCooldown(time.Minute)
	if !c.Admit(Key("A", "x")) || !c.Admit(Key("B", "x")) {
		t.Error("distinct keys should both be admitted")
	}
}

func TestAlertCooldown_ZeroCooldownAdmitsAll(t *testing.T) {
	c := NewAlertCooldown(0)
	key := Key("A", "x")
	for i := 0; i < 3; i++ {
		if !c.Admit(key) {
			t.Fatalf("attempt %d should be admitted with zero cooldown", i)
		}
		c.Record(key)
	}
}

func TestAlertCooldown_EvictsAfterTwiceCooldown(t *testing.T) {
	clock := newFakeClock()
	c := NewAlertCooldown(10 * time.Second)
	c.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		k := Key(fmt.Sprintf("old-%d", i), "m")
		c.Admit(k)
		c.Record(k)
	}
	if c.Size() != 5 {
		t.Fatalf("expected 5 entries, got %d", c.Size())
	}

	clock.Advance(15 * time.Second)
	c.Record(Key("mid", "m"))
	if c.Size() != 6 {
		t.Errorf("entries younger than 2x cooldown must survive, size = %d", c.Size())
	}

	clock.Advance(6 * time.Second)
	c.Record(Key("new", "m"))
	if c.Size() != 2 {
		t.Errorf("expected old entries evicted, size = %d", c.Size())
	}
}

func TestAlertCooldown_ConcurrentDuplicatesAdmitOnce(t *testing.T) {
	c := NewAlertCooldown(time.Minute)
	key := Key("race", "same")

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Admit(key) {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if admitted != 1 {
		t.Errorf("expected exactly one admission, got %d", admitted)
	}
}
