package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChargeBurst(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := New(1, 3)
	k.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, k.Allow("alice"), "attempt %d", i)
		k.Charge("alice")
	}
	assert.False(t, k.Allow("alice"))
	assert.True(t, k.Allow("bob"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, k.Allow("alice"), "a token is refilled each second")
	k.Charge("alice")
	assert.False(t, k.Allow("alice"))
}

func TestAllowDoesNotCharge(t *testing.T) {
	k := New(0.001, 1)
	for i := 0; i < 10; i++ {
		assert.True(t, k.Allow("alice"))
	}
	k.Charge("alice")
	assert.False(t, k.Allow("alice"))
}

func TestUnlimited(t *testing.T) {
	k := New(0, 0)
	for i := 0; i < 100; i++ {
		k.Charge("alice")
		assert.True(t, k.Allow("alice"))
	}
	assert.Zero(t, k.Len())
}

func TestIdleKeysForgotten(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := New(1, 1)
	k.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		k.Charge(fmt.Sprintf("user%d", i))
	}
	assert.Equal(t, 5, k.Len())

	now = now.Add(time.Hour)
	k.Allow("fresh")
	assert.Equal(t, 1, k.Len())
}

func TestConcurrent(t *testing.T) {
	k := New(0.001, 10)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.Allow("alice")
			k.Charge("alice")
		}()
	}
	wg.Wait()
	assert.False(t, k.Allow("alice"))
	assert.Equal(t, 1, k.Len())
}
