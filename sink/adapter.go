package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"rowpump/internal/record"
)

// AckFn is how a driver reports the outcome of one publish attempt. It may
// be called from any goroutine and must not be called twice per attempt.
type AckFn func(record.AckResult)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	// Publish hands env to the broker client. An error means the attempt
	// never started and ack will not be called for it.
	Publish(ctx context.Context, topic string, env *record.Envelope, ack AckFn) error
	Close() error // flushes what the client still buffers; idempotent
}

// Drivers that buffer client-side may also implement Poll() and
// Flush(context.Context) error; the flush coordinator calls them when present.

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	reg[name] = f
	mu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
