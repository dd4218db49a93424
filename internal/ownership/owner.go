package ownership

import (
	"strconv"

	"github.com/petermattis/goid"
)

// Owner identifies the execution context that drives a channel.
type Owner string

// Current returns the Owner for the calling goroutine.
func Current() Owner {
	return Owner("goroutine-" + strconv.FormatInt(goid.Get(), 10))
}
