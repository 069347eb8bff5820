package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/statehub/errors"
	"github.com/grovetools/statehub/pkg/protocol"
)

// Router correlates outgoing call frames with their asynchronous responses
// by correlation id. Every pending call resolves exactly once: with the
// matched response, a timeout, or a disconnect rejection.
type Router struct {
	transport      *Transport
	defaultTimeout time.Duration
	logger         *logrus.Entry

	mu      sync.Mutex
	pending map[string]chan *protocol.Frame
}

// NewRouter creates a router on top of the given transport.
func NewRouter(transport *Transport, defaultTimeout time.Duration, logger *logrus.Entry) *Router {
	return &Router{
		transport:      transport,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		pending:        make(map[string]chan *protocol.Frame),
	}
}

// Call sends a request and blocks until the matched response arrives, the
// timeout elapses, the transport drops, or ctx is cancelled. A timeout of 0
// uses the router default.
func (r *Router) Call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to marshal call params").
				WithDetail("method", method)
		}
		rawParams = data
	}

	id := uuid.NewString()
	ch := make(chan *protocol.Frame, 1)

	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	frame := &protocol.Frame{
		Type:   protocol.FrameCall,
		ID:     id,
		Method: method,
		Params: rawParams,
	}
	if err := r.transport.Send(frame); err != nil {
		r.drop(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			// Channel poisoned by RejectAll.
			return nil, errors.Disconnected("connection dropped mid-call").
				WithDetail("method", method)
		}
		if resp.Error != nil {
			return nil, errors.New(errors.ErrCodeCallRejected, resp.Error.Message).
				WithDetail("method", method).
				WithDetail("remote_code", resp.Error.Code)
		}
		return resp.Result, nil
	case <-timer.C:
		// Once dropped here, a late response is discarded in HandleResponse.
		r.drop(id)
		return nil, errors.CallTimeout(method, timeout)
	case <-ctx.Done():
		r.drop(id)
		return nil, ctx.Err()
	}
}

// HandleResponse routes a response frame to its waiting caller. Responses
// for calls that already timed out are discarded.
func (r *Router) HandleResponse(frame *protocol.Frame) {
	r.mu.Lock()
	ch, ok := r.pending[frame.ID]
	if ok {
		delete(r.pending, frame.ID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.WithField("id", frame.ID).Debug("Discarding late response")
		return
	}
	ch <- frame
}

// RejectAll fails every in-flight call with a Disconnected error. Called on
// connection loss so no caller is left pending indefinitely.
func (r *Router) RejectAll() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]chan *protocol.Frame)
	r.mu.Unlock()

	if len(pending) > 0 {
		r.logger.WithField("count", len(pending)).Debug("Rejecting in-flight calls")
	}
	for _, ch := range pending {
		ch <- nil
	}
}

func (r *Router) drop(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}
