package transport

// Event is the tagged union of everything a live socket can report. The
// session consumes events through a single entry point so transitions are
// testable without a real connection.
type Event interface{ isEvent() }

// Opened reports a completed connection handshake.
type Opened struct{}

// Message carries one inbound text payload from the backend.
type Message struct {
	Payload []byte
}

// Closed reports a close frame (or abnormal closure) with its code.
type Closed struct {
	Code   int
	Reason string
}

// NetError reports a transport failure that did not carry a close code,
// such as a failed write.
type NetError struct {
	Err error
}

func (Opened) isEvent()   {}
func (Message) isEvent()  {}
func (Closed) isEvent()   {}
func (NetError) isEvent() {}

// ClosePolicy is the retry disposition derived from a closure.
type ClosePolicy int

const (
	// CloseNoRetry is a normal closure; the stream ended deliberately.
	CloseNoRetry ClosePolicy = iota
	// CloseRetry schedules a standard backoff retry.
	CloseRetry
	// CloseRetryColdStart schedules a retry with an extra fixed delay to
	// tolerate backend cold starts.
	CloseRetryColdStart
	// CloseAuthFailure is terminal; the user must re-authenticate.
	CloseAuthFailure
)

// ClassifyClose maps a websocket close code onto a retry disposition.
func ClassifyClose(code int) ClosePolicy {
	switch code {
	case 1000:
		return CloseNoRetry
	case 1006, 1011:
		return CloseRetryColdStart
	case 1008, 1014:
		return CloseAuthFailure
	default:
		return CloseRetry
	}
}
