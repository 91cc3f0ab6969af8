package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoublesPerRetry(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, 500*time.Millisecond, Delay(base, 0))
	assert.Equal(t, time.Second, Delay(base, 1))
	assert.Equal(t, 2*time.Second, Delay(base, 2))
	assert.Equal(t, 8*time.Second, Delay(base, 4))
}

func TestDelayCapped(t *testing.T) {
	assert.Equal(t, 60*time.Second, Delay(time.Second, 10))
	assert.Equal(t, 60*time.Second, Delay(time.Second, 63), "large shifts must not overflow")
}
