package ratelimit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fablehall/viewcore/ratelimit"
)

func TestFixedWindow(t *testing.T) {
	rl := ratelimit.NewFixedWindow(&ratelimit.FixedWindowOption{
		Limit:  2,
		Window: time.Second,
	})
	now := time.Now()
	rl.Now = func() time.Time { return now }

	key := t.Name()

	is := assert.New(t)

	res := rl.Allow(key)
	is.True(res.Allow)
	is.EqualValues(1, res.Remaining)

	res = rl.Allow(key)
	is.True(res.Allow)
	is.EqualValues(0, res.Remaining)

	res = rl.Allow(key)
	is.False(res.Allow)
	is.Equal(now.Add(time.Second), res.RetryAt)

	// A fresh window opens once the old one has elapsed.
	now = now.Add(time.Second)
	res = rl.Allow(key)
	is.True(res.Allow)
	is.EqualValues(1, res.Remaining)
}

func TestFixedWindowKeysIndependent(t *testing.T) {
	rl := ratelimit.NewFixedWindow(&ratelimit.FixedWindowOption{
		Limit:  1,
		Window: time.Minute,
	})

	is := assert.New(t)
	is.True(rl.Allow("conn:a").Allow)
	is.False(rl.Allow("conn:a").Allow)
	is.True(rl.Allow("conn:b").Allow)
}

func TestFixedWindowReset(t *testing.T) {
	rl := ratelimit.NewFixedWindow(&ratelimit.FixedWindowOption{
		Limit:  1,
		Window: time.Minute,
	})

	key := t.Name()

	is := assert.New(t)
	is.True(rl.Allow(key).Allow)
	is.False(rl.Allow(key).Allow)

	rl.Reset(key)
	is.True(rl.Allow(key).Allow)
}

func TestFixedWindowOption(t *testing.T) {
	assert.Panics(t, func() {
		ratelimit.NewFixedWindow(nil)
	})
	assert.Panics(t, func() {
		ratelimit.NewFixedWindow(&ratelimit.FixedWindowOption{Limit: 0, Window: time.Second})
	})
}
