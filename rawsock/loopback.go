package rawsock

// Loopback is an in-memory transport that hands every frame given to Send
// straight back out of Recv, optionally mutating it first (to emulate
// SubDevices incrementing a working counter). It has no platform
// dependency; nothing else in this module uses it.
type Loopback struct {
	respond func(frame []byte)
	frames  chan []byte
}

// NewLoopback constructs a Loopback. respond, if non-nil, is called with
// each frame's bytes (in place) before it is queued for Recv, for example to
// stamp a working counter the way a real SubDevice segment would.
func NewLoopback(respond func(frame []byte)) *Loopback {
	return &Loopback{respond: respond, frames: make(chan []byte, 64)}
}

// Send copies b (the caller may reuse its buffer immediately after this
// returns), applies the configured responder, and queues it for Recv.
func (l *Loopback) Send(b []byte) (int, error) {
	frame := make([]byte, len(b))
	copy(frame, b)
	if l.respond != nil {
		l.respond(frame)
	}
	l.frames <- frame
	return len(b), nil
}

// Recv blocks until a frame sent via Send is available and copies it into
// b, returning the number of bytes copied.
func (l *Loopback) Recv(b []byte) (int, error) {
	frame := <-l.frames
	return copy(b, frame), nil
}
