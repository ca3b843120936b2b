package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuiet(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "diff", true)
	b.Progress(10, 100)
	b.Done()
	s := StartSpinner(&buf, "loading", true)
	s.Stop()
	assert.Empty(t, buf.String())
}

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "diff", false)
	for i := int64(1); i <= 4; i++ {
		b.Progress(i*25, 100)
	}
	b.Done()
}

func TestBarAbort(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf, "diff", false)
	b.Progress(10, 100)
	b.Abort()

	// A bar that never saw progress finishes immediately.
	NewBar(&buf, "idle", false).Done()
	NewBar(&buf, "idle", false).Abort()
}
