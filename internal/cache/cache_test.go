package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	c.Set("key", "value")

	got, ok := c.Get("key")
	if !ok {
		t.Fatal("Get() miss after Set()")
	}
	if got != "value" {
		t.Errorf("Get() = %v, want value", got)
	}
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	if _, ok := c.Get("nope"); ok {
		t.Error("Get() hit on a key that was never set")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	c.SetWithTTL("short", "value", 10*time.Millisecond)

	if _, ok := c.Get("short"); !ok {
		t.Fatal("entry should be live immediately after set")
	}

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("entry should have expired")
	}
	if c.Has("short") {
		t.Error("Has() should report expired entry as gone")
	}
}

func TestMemoryCache_GetWithAge(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	before := time.Now()
	c.Set("key", 42)
	after := time.Now()

	got, storedAt, ok := c.GetWithAge("key")
	if !ok {
		t.Fatal("GetWithAge() miss after Set()")
	}
	if got != 42 {
		t.Errorf("GetWithAge() value = %v, want 42", got)
	}
	if storedAt.Before(before) || storedAt.After(after) {
		t.Errorf("storedAt %v outside [%v, %v]", storedAt, before, after)
	}
}

func TestMemoryCache_SetReplacesAge(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	c.Set("key", "old")
	_, firstStored, _ := c.GetWithAge("key")

	time.Sleep(5 * time.Millisecond)
	c.Set("key", "new")

	got, secondStored, ok := c.GetWithAge("key")
	if !ok {
		t.Fatal("GetWithAge() miss after overwrite")
	}
	if got != "new" {
		t.Errorf("value = %v, want new", got)
	}
	if !secondStored.After(firstStored) {
		t.Error("overwrite should reset the stored-at timestamp")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	c.Set("key", "value")
	c.Delete("key")

	if c.Has("key") {
		t.Error("key should be gone after Delete()")
	}
	// Deleting a missing key is a no-op.
	c.Delete("never-existed")
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i)
	}
	c.Clear()

	for i := 0; i < 5; i++ {
		if c.Has(fmt.Sprintf("key-%d", i)) {
			t.Errorf("key-%d survived Clear()", i)
		}
	}
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	c.SetWithTTL("stale", "x", time.Millisecond)
	c.Set("fresh", "y")

	time.Sleep(5 * time.Millisecond)
	c.removeExpired()

	c.mu.RLock()
	_, staleThere := c.items["stale"]
	_, freshThere := c.items["fresh"]
	c.mu.RUnlock()

	if staleThere {
		t.Error("sweep left an expired entry behind")
	}
	if !freshThere {
		t.Error("sweep removed a live entry")
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemory(time.Minute)
	defer c.Stop()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%10)
				c.Set(key, n)
				c.Get(key)
				c.Has(key)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
