package audio

import "context"

// Source is an opened capture stream. Start opens the device and begins
// pushing chunks into the sink from its own goroutine; an error from Start is
// a device open failure. Done is closed once the source stops producing,
// either because Stop was called, the input ended, or the device was lost;
// Err then reports the device loss, or nil for a clean stop.
type Source interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
	Done() <-chan struct{}
	Err() error
	// Status carries driver warnings such as overruns. Sends never block;
	// warnings are dropped when nobody is reading.
	Status() <-chan string
}

const statusBuffer = 16

func sendStatus(ch chan string, msg string) {
	select {
	case ch <- msg:
	default:
	}
}
