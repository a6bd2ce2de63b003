package connector

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type rawConn struct{ closed bool }

func (c *rawConn) Close() error { c.closed = true; return nil }

type wrapConn struct{ inner Connection }

func (w *wrapConn) Close() error       { return w.inner.Close() }
func (w *wrapConn) Unwrap() Connection { return w.inner }

func TestUnwrap(t *testing.T) {
	raw := &rawConn{}
	assert.Same(t, raw, Unwrap(&wrapConn{inner: &wrapConn{inner: raw}}))
	assert.Same(t, raw, Unwrap(raw))

	empty := &wrapConn{}
	assert.Same(t, empty, Unwrap(empty))
}

func TestExecutionContextWarnings(t *testing.T) {
	ec := &ExecutionContext{RequestID: "r1.0"}
	ec.AddWarning(nil)
	ec.AddWarning(errors.New("truncated"))
	assert.Len(t, ec.DrainWarnings(), 1)
	assert.Empty(t, ec.DrainWarnings())
}

func TestDataAvailable(t *testing.T) {
	ec := &ExecutionContext{}
	ec.DataAvailable() // no callback installed

	var wg sync.WaitGroup
	calls := 0
	var mu sync.Mutex
	ec.SetDataAvailable(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ec.DataAvailable()
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, calls)
}

func TestFetchVariants(t *testing.T) {
	for _, f := range []Fetch{Row{}, Pending{}, End{}} {
		switch f.(type) {
		case Row, Pending, End:
		default:
			t.Fatalf("unexpected fetch %T", f)
		}
	}
}
