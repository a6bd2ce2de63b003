package dqp

import (
	"time"

	"github.com/roach88/fedq/internal/connector"
)

// Result is the outcome of WorkItem.More: Ready, Pending, or Done.
type Result interface {
	result() // Marker method - seals interface to this package
}

// Ready is a non-final batch.
type Ready struct {
	Rows     []connector.Row
	Warnings []error
}

// Pending means the source has nothing yet. The request should suspend until
// the data-available callback fires or Until passes. A zero Until means no
// deadline.
type Pending struct {
	Until time.Time
}

// Done is the final batch. Rows may be empty.
type Done struct {
	Rows     []connector.Row
	Warnings []error
}

func (Ready) result()   {}
func (Pending) result() {}
func (Done) result()    {}
