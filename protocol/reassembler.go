package protocol

import (
	"fmt"
	"sync"
	"time"

	"mini-wsrpc/message"
)

const (
	DefaultReassemblyTimeout = 15 * time.Second
	DefaultMaxFrameSize      = 8 << 20
)

// Reassembler turns raw deliveries into messages. It holds at most one
// incomplete fragment; the connection is assumed to be a single ordered
// stream, so two interleaved partial messages cannot occur.
//
// When a fragment is buffered a timer is armed. If no delivery completes it in
// time, the fragment is dropped and onTimeout receives it. Any successful
// decode stops the timer, so a stale timeout never fires for data that was
// already delivered.
type Reassembler struct {
	mu        sync.Mutex
	partial   string
	timer     *time.Timer
	gen       uint64 // Bumped whenever the timer is stopped or re-armed
	timeout   time.Duration
	maxSize   int
	onTimeout func(*FrameError)
}

// NewReassembler creates a reassembler. Zero values select the defaults; a
// negative maxFrameSize disables the size limit.
func NewReassembler(timeout time.Duration, maxFrameSize int, onTimeout func(*FrameError)) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Reassembler{
		timeout:   timeout,
		maxSize:   maxFrameSize,
		onTimeout: onTimeout,
	}
}

// Ingest consumes one delivery and returns the messages it completes, in order,
// along with errors for text that can never be decoded. Each call mutates the
// shared buffer, so calls must come from the connection's single reader.
func (r *Reassembler) Ingest(raw string) ([]message.Message, []*FrameError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	text := raw
	if r.partial != "" {
		text = r.partial + raw
		r.partial = ""
	}

	frames, rest := Split(text)

	var msgs []message.Message
	var errs []*FrameError
	for _, frame := range frames {
		m, err := message.Parse([]byte(frame))
		if err != nil {
			errs = append(errs, &FrameError{Text: frame, Err: fmt.Errorf("%w: %v", ErrMalformed, err)})
			continue
		}
		r.stopTimerLocked()
		msgs = append(msgs, m)
	}

	if rest != "" {
		if r.maxSize > 0 && len(rest) > r.maxSize {
			r.stopTimerLocked()
			errs = append(errs, &FrameError{Text: rest, Err: ErrFrameTooLarge})
		} else {
			r.partial = rest
			r.armTimerLocked()
		}
	}
	return msgs, errs
}

// Buffered returns the fragment waiting for completion, if any.
func (r *Reassembler) Buffered() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partial
}

// Reset drops the buffered fragment and disarms the timer.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial = ""
	r.stopTimerLocked()
}

func (r *Reassembler) armTimerLocked() {
	r.stopTimerLocked()
	gen := r.gen
	r.timer = time.AfterFunc(r.timeout, func() { r.expire(gen) })
}

func (r *Reassembler) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

func (r *Reassembler) expire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.partial == "" {
		r.mu.Unlock()
		return
	}
	text := r.partial
	r.partial = ""
	r.timer = nil
	r.gen++
	r.mu.Unlock()

	if r.onTimeout != nil {
		r.onTimeout(&FrameError{Text: text, Err: ErrReassemblyTimeout})
	}
}
