package requests

import (
	"errors"
	"fmt"
	"time"

	"github.com/five82/infinario/transport"
)

// ErrClosed is carried by KilledError responses.
var ErrClosed = errors.New("request manager closed")

// Status is the terminal outcome of one request.
type Status int

const (
	Success Status = iota
	SendRequestError
	ReceiveHeaderError
	ReceiveBodyError
	KilledError
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case SendRequestError:
		return "SendRequestError"
	case ReceiveHeaderError:
		return "ReceiveHeaderError"
	case ReceiveBodyError:
		return "ReceiveBodyError"
	case KilledError:
		return "KilledError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is the manager lifecycle state.
type State int

const (
	Idle State = iota
	Processing
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case ShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Response is handed to a request's callback exactly once.
type Response struct {
	// Transport is the transport that ran the request, nil for KilledError.
	Transport transport.Transport
	// RequestBody is the body that was enqueued.
	RequestBody []byte
	Status      Status
	// StatusCode is the HTTP status, 0 when no header was received.
	StatusCode int
	// Body is whatever response body had accumulated.
	Body []byte
	// Err is the failure behind a non-success status.
	Err      error
	UserData any
}

// Callback receives the outcome of a request.
type Callback func(Response)

// Request is one queued POST. It must not be modified after Enqueue.
type Request struct {
	URI      string
	Body     []byte
	Callback Callback
	UserData any
}

// Outcome summarises one delivered response for an Observer.
type Outcome struct {
	Status    Status
	Err       error
	Elapsed   time.Duration
	BodyBytes int
	// Pending is the number of requests still queued after this one.
	Pending int
}

// Observer is notified once per delivered response, before the request's
// callback runs.
type Observer interface {
	Observe(Outcome)
}
