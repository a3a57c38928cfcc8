package progress

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestSpinner_Disabled(t *testing.T) {
	s := StartSpinner(nil, false, "building")
	assert.Nil(t, s)
	s.Stop()
}

func TestSpinner_WritesUntilStopped(t *testing.T) {
	var out syncBuffer
	s := StartSpinner(&out, true, "building")
	time.Sleep(300 * time.Millisecond)
	s.Stop()
	s.Stop()

	assert.Positive(t, out.Len())
}

func TestSpinner_QuietAfterStop(t *testing.T) {
	var out syncBuffer
	s := StartSpinner(&out, true, "building")
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	n := out.Len()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, n, out.Len())
}
