package transport

import (
	"context"
	"time"

	"github.com/c360/scenesync/errors"
	"github.com/c360/scenesync/message"
	"github.com/c360/scenesync/metric"
)

// DefaultRequestTimeout bounds a control request awaiting its reply.
const DefaultRequestTimeout = 5 * time.Second

// ControlChannel is the client side of the request/reply discipline: one
// request, exactly one reply, or a timeout/cancellation error.
type ControlChannel struct {
	bus     Bus
	subject string
	timeout time.Duration
	logger  Logger
}

// NewControlChannel creates a control channel sending to the given subject.
func NewControlChannel(bus Bus, subject string) *ControlChannel {
	return &ControlChannel{
		bus:     bus,
		subject: subject,
		timeout: DefaultRequestTimeout,
		logger:  &defaultLogger{},
	}
}

// SetTimeout overrides the per-request timeout.
func (cc *ControlChannel) SetTimeout(d time.Duration) {
	cc.timeout = d
}

// SetLogger overrides the channel logger.
func (cc *ControlChannel) SetLogger(l Logger) {
	if l != nil {
		cc.logger = l
	}
}

// Request sends one request and blocks until its reply arrives or the
// context/timeout expires. The reply is decoded and required to be a
// response frame of the same kind as the request.
func (cc *ControlChannel) Request(ctx context.Context, req message.Request) (message.Response, error) {
	frame, err := message.Encode(req)
	if err != nil {
		return nil, errors.Wrap(err, "ControlChannel", "Request", "encode request")
	}

	replyFrame, err := cc.bus.Request(ctx, cc.subject, frame, cc.timeout)
	if err != nil {
		return nil, errors.WrapTransient(err, "ControlChannel", "Request", "await reply")
	}

	resp, err := message.DecodeResponse(replyFrame)
	if err != nil {
		return nil, err
	}
	if resp.Kind() != req.Kind() {
		return nil, errors.Malformed(
			"reply kind " + resp.Kind().String() + " does not match request kind " + req.Kind().String())
	}
	return resp, nil
}

// RequestHandler processes one decoded control request and produces the
// response to send back.
type RequestHandler func(ctx context.Context, req message.Request) message.Response

// ControlServer is the server side of the request/reply discipline. It
// decodes incoming frames, dispatches them to a handler, and encodes the
// reply. Decode failures are answered with a malformed-kind GenericResponse
// rather than dropped, so a confused client fails fast instead of timing out.
type ControlServer struct {
	bus     Bus
	subject string
	logger  Logger
	metrics *metric.Metrics

	cancel func()
}

// NewControlServer creates a control server on the given subject.
func NewControlServer(bus Bus, subject string) *ControlServer {
	return &ControlServer{
		bus:     bus,
		subject: subject,
		logger:  &defaultLogger{},
	}
}

// SetLogger overrides the server logger.
func (cs *ControlServer) SetLogger(l Logger) {
	if l != nil {
		cs.logger = l
	}
}

// SetMetrics attaches codec error counters.
func (cs *ControlServer) SetMetrics(m *metric.Metrics) {
	cs.metrics = m
}

// Serve registers the handler and begins answering requests. It returns
// immediately; delivery happens on the bus's background threads.
func (cs *ControlServer) Serve(ctx context.Context, handler RequestHandler) error {
	cancel, err := cs.bus.RegisterHandler(ctx, cs.subject, func(msgCtx context.Context, frame []byte) []byte {
		return cs.handleFrame(msgCtx, frame, handler)
	})
	if err != nil {
		return errors.Wrap(err, "ControlServer", "Serve", "register handler")
	}
	cs.cancel = cancel
	return nil
}

func (cs *ControlServer) handleFrame(ctx context.Context, frame []byte, handler RequestHandler) []byte {
	req, err := message.DecodeRequest(frame)
	if err != nil {
		cs.logger.Errorf("ControlServer: reject frame: %v", err)
		cs.metrics.RecordCodecError()
		reply, encErr := message.Encode(&message.GenericResponse{Status: message.Failed(err)})
		if encErr != nil {
			return nil
		}
		return reply
	}

	resp := handler(ctx, req)
	if resp == nil {
		resp = &message.GenericResponse{Status: message.Failed(errors.Unknown("no response from handler"))}
	}

	reply, err := message.Encode(resp)
	if err != nil {
		cs.logger.Errorf("ControlServer: encode reply: %v", err)
		return nil
	}
	return reply
}

// Stop cancels the handler registration. Idempotent and safe from teardown.
func (cs *ControlServer) Stop() {
	if cs.cancel != nil {
		cs.cancel()
	}
}
