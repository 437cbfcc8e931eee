package probe

import (
	"sync"

	"webstream/internal/transport"
)

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evError
	evTimeout
)

// event is one thing that happened to an attempt, whatever its source
type event struct {
	kind eventKind
	data string
	info transport.ErrorInfo
}

// attemptResult is the terminal action taken for an attempt
type attemptResult struct {
	succeeded bool
	payload   string
	failure   FailureKind
	info      transport.ErrorInfo
}

// attempt holds the state of one bounded connection try. Only the probe
// loop touches it.
type attempt struct {
	n            int
	timer        *timer
	stream       transport.Stream
	receivedData bool
	finished     bool

	events chan event
	done   chan struct{}
}

func newAttempt(n int, t *timer) *attempt {
	return &attempt{
		n:      n,
		timer:  t,
		events: make(chan event, 16),
		done:   make(chan struct{}),
	}
}

// handle applies ev and reports whether it ended the attempt. Once the
// attempt is finished every further event is ignored.
func (a *attempt) handle(ev event) (attemptResult, bool) {
	if a.finished {
		return attemptResult{}, false
	}

	switch ev.kind {
	case evMessage:
		if a.receivedData {
			return attemptResult{}, false
		}
		a.receivedData = true
		a.finish()
		return attemptResult{succeeded: true, payload: ev.data}, true

	case evTimeout:
		a.finish()
		return attemptResult{failure: FailureTimeout}, true

	case evError:
		a.finish()
		return attemptResult{failure: Classify(ev.info), info: ev.info}, true
	}

	return attemptResult{}, false
}

// finish runs the terminal action: cancel the deadline, close the stream
// and release any callback still waiting to be delivered.
func (a *attempt) finish() {
	a.finished = true
	a.timer.Cancel()
	if a.stream != nil {
		a.stream.Close()
	}
	close(a.done)
}

// handler forwards transport callbacks into the attempt's event channel.
// Callbacks arriving after the attempt finished are dropped.
type handler struct {
	events chan<- event
	done   <-chan struct{}
}

func (h *handler) send(ev event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

func (h *handler) OnOpen()                          { h.send(event{kind: evOpen}) }
func (h *handler) OnMessage(data string)            { h.send(event{kind: evMessage, data: data}) }
func (h *handler) OnError(info transport.ErrorInfo) { h.send(event{kind: evError, info: info}) }

// onceStream guards a stream whose Close may not be idempotent
type onceStream struct {
	transport.Stream
	once sync.Once
	err  error
}

func (s *onceStream) Close() error {
	s.once.Do(func() {
		s.err = s.Stream.Close()
	})
	return s.err
}
