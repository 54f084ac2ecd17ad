package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/envbridge/internal/bridge"
	"github.com/GriffinCanCode/envbridge/internal/bridge/correlation"
	"github.com/GriffinCanCode/envbridge/internal/bridge/envelope"
	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
	"github.com/GriffinCanCode/envbridge/internal/bridge/router"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/envbridge/internal/testutil"
	"github.com/GriffinCanCode/envbridge/internal/transport"
	"github.com/GriffinCanCode/envbridge/internal/transport/memory"
)

const (
	hostOrigin   = "https://host.test"
	widgetOrigin = "https://widget.test"
)

var ping = map[string]string{"type": "ping"}

type events struct {
	mu   sync.Mutex
	list []bridge.InboundEvent
}

func (e *events) observe(ev bridge.InboundEvent) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

func (e *events) has(state bridge.InboundState, reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.list {
		if ev.State == state && ev.Reason == reason {
			return true
		}
	}
	return false
}

func (e *events) find(state bridge.InboundState) (bridge.InboundEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.list {
		if ev.State == state {
			return ev, true
		}
	}
	return bridge.InboundEvent{}, false
}

func connect(t *testing.T, net *memory.Network, origin string, allowed []string, opts ...bridge.Option) (*bridge.Bridge, *events) {
	t.Helper()
	ep := net.Connect(origin)
	t.Cleanup(func() { _ = ep.Close() })

	rec := &events{}
	opts = append(opts, bridge.WithInboundObserver(rec.observe))
	b, err := bridge.New(bridge.Config{
		Origin:         origin,
		AllowedOrigins: allowed,
		MessageTimeout: 2 * time.Second,
	}, ep, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, rec
}

func pair(t *testing.T, opts ...bridge.Option) (host, widget *bridge.Bridge, hostEvents, widgetEvents *events) {
	t.Helper()
	net := memory.NewNetwork()
	host, hostEvents = connect(t, net, hostOrigin, []string{widgetOrigin})
	widget, widgetEvents = connect(t, net, widgetOrigin, []string{hostOrigin}, opts...)
	return host, widget, hostEvents, widgetEvents
}

func pong(context.Context, json.RawMessage, router.Meta) (any, error) {
	return map[string]bool{"pong": true}, nil
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := bridge.New(bridge.Config{}, testutil.NewMockTransport(t))
	assert.Error(t, err)

	_, err = bridge.New(bridge.Config{Origin: hostOrigin}, nil)
	assert.Error(t, err)
}

func TestPingPong(t *testing.T) {
	host, widget, hostEvents, _ := pair(t)
	host.RegisterHandler("ping", func(ctx context.Context, payload json.RawMessage, meta router.Meta) (any, error) {
		assert.Equal(t, widgetOrigin, meta.Source)
		assert.Equal(t, "ping", meta.Type)
		assert.True(t, meta.RequiresResponse)
		return pong(ctx, payload, meta)
	})

	raw, err := widget.Request(context.Background(), ping, hostOrigin, 0)

	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(raw))
	assert.Equal(t, 0, widget.Pending())
	assert.Eventually(t, func() bool { return hostEvents.has(bridge.InboundResponded, "") }, time.Second, time.Millisecond)
}

func TestForbiddenOriginIsDropped(t *testing.T) {
	net := memory.NewNetwork()
	host, hostEvents := connect(t, net, hostOrigin, []string{widgetOrigin})
	evil, _ := connect(t, net, "https://evil.test", []string{"*"})

	var called atomic.Bool
	host.RegisterHandler("ping", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		called.Store(true)
		return true, nil
	})

	_, err := evil.Request(context.Background(), ping, hostOrigin, 100*time.Millisecond)

	be := testutil.AssertKind(t, err, errs.KindResponseTimeout)
	assert.GreaterOrEqual(t, be.Elapsed, 100*time.Millisecond)
	assert.NotEmpty(t, be.MessageID)
	assert.False(t, called.Load())
	assert.True(t, hostEvents.has(bridge.InboundDropped, bridge.ReasonForbiddenOrigin))
}

func TestOutOfOrderResponses(t *testing.T) {
	host, widget, _, _ := pair(t)
	releaseA := make(chan struct{})
	host.RegisterHandler("work", func(ctx context.Context, payload json.RawMessage, _ router.Meta) (any, error) {
		var req struct{ Name string }
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.Name == "A" {
			select {
			case <-releaseA:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return map[string]string{"name": req.Name}, nil
	})

	ctx := context.Background()
	opts := bridge.SendOptions{RequiresResponse: true}
	callA, err := widget.Send(ctx, map[string]string{"type": "work", "name": "A"}, hostOrigin, opts)
	require.NoError(t, err)
	callB, err := widget.Send(ctx, map[string]string{"type": "work", "name": "B"}, hostOrigin, opts)
	require.NoError(t, err)

	replyB, err := callB.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"B"}`, string(replyB.Payload))
	assert.Equal(t, correlation.StatePending, callA.State())

	close(releaseA)
	replyA, err := callA.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"A"}`, string(replyA.Payload))
	assert.Equal(t, callA.ID(), replyA.ID)
}

func TestTimeoutThenLateResponseIsIgnored(t *testing.T) {
	host, widget, _, widgetEvents := pair(t)
	release := make(chan struct{})
	host.RegisterHandler("slow", func(ctx context.Context, _ json.RawMessage, _ router.Meta) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "late", nil
	})

	call, err := widget.Send(context.Background(), map[string]string{"type": "slow"}, hostOrigin,
		bridge.SendOptions{RequiresResponse: true, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = call.Wait(context.Background())
	be := testutil.AssertKind(t, err, errs.KindResponseTimeout)
	assert.Equal(t, call.ID(), be.MessageID)
	assert.Equal(t, correlation.StateTimedOut, call.State())
	assert.Equal(t, 0, widget.Pending())

	close(release)
	assert.Eventually(t, func() bool {
		return widgetEvents.has(bridge.InboundDropped, bridge.ReasonUnmatched)
	}, time.Second, time.Millisecond)
	assert.Equal(t, correlation.StateTimedOut, call.State())
	_, err = call.Result()
	assert.ErrorIs(t, err, errs.ErrResponseTimeout)
}

func TestCloseRejectsPending(t *testing.T) {
	net := memory.NewNetwork()
	ep := net.Connect(widgetOrigin)
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin, AllowedOrigins: []string{hostOrigin}}, ep)
	require.NoError(t, err)

	call, err := b.Send(context.Background(), ping, "https://nowhere.test",
		bridge.SendOptions{RequiresResponse: true, Timeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, 1, b.Pending())

	require.NoError(t, b.Close())

	_, err = call.Wait(context.Background())
	testutil.AssertKind(t, err, errs.KindBridgeClosed)
	assert.Equal(t, correlation.StateClosed, call.State())
	assert.Equal(t, 0, b.Pending())

	_, err = b.Send(context.Background(), ping, hostOrigin, bridge.SendOptions{})
	testutil.AssertKind(t, err, errs.KindBridgeClosed)
	assert.NoError(t, b.Close())
}

func TestCloseWaitsForHandlers(t *testing.T) {
	host, widget, _, _ := pair(t)
	started := make(chan struct{})
	var finished atomic.Bool
	host.RegisterHandler("block", func(ctx context.Context, _ json.RawMessage, _ router.Meta) (any, error) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
		return nil, ctx.Err()
	})

	_, err := widget.Send(context.Background(), map[string]string{"type": "block"}, hostOrigin, bridge.SendOptions{})
	require.NoError(t, err)
	<-started

	require.NoError(t, host.Close())
	assert.True(t, finished.Load())
}

func TestReentrantHandler(t *testing.T) {
	host, widget, _, _ := pair(t)
	widget.RegisterHandler("ping", pong)
	host.RegisterHandler("relay", func(ctx context.Context, _ json.RawMessage, _ router.Meta) (any, error) {
		inner, err := host.Request(ctx, ping, widgetOrigin, 0)
		if err != nil {
			return nil, err
		}
		return map[string]json.RawMessage{"inner": inner}, nil
	})

	raw, err := widget.Request(context.Background(), map[string]string{"type": "relay"}, hostOrigin, 0)

	require.NoError(t, err)
	assert.JSONEq(t, `{"inner":{"pong":true}}`, string(raw))
}

func TestSendSizeBoundary(t *testing.T) {
	net := memory.NewNetwork()
	var posted atomic.Int32
	net.SetTap(func(from, to string, data []byte) bool {
		posted.Add(1)
		return true
	})
	ep := net.Connect(widgetOrigin)
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin, MaxMessageSize: 64}, ep)
	require.NoError(t, err)
	defer b.Close()
	net.Connect(hostOrigin)

	// a JSON string of n characters serializes to n+2 bytes
	_, err = b.Send(context.Background(), strings.Repeat("a", 62), hostOrigin, bridge.SendOptions{})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), strings.Repeat("a", 63), hostOrigin, bridge.SendOptions{RequiresResponse: true})
	testutil.AssertKind(t, err, errs.KindMessageTooLarge)

	assert.Equal(t, int32(1), posted.Load())
	assert.Equal(t, 0, b.Pending())
}

func TestTargetRequired(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin}, tr)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Send(context.Background(), ping, "", bridge.SendOptions{RequiresResponse: true})

	testutil.AssertKind(t, err, errs.KindTargetRequired)
	tr.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, b.Pending())
}

func TestNonPlainPayloadRejected(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin}, tr)
	require.NoError(t, err)
	defer b.Close()

	payloads := map[string]any{
		"function value": map[string]any{"cb": func() {}},
		"nil map":        map[string]any(nil),
		"nil slice":      []string(nil),
		"typed nil":      (*struct{ A int })(nil),
		"raw null":       json.RawMessage(" null "),
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			_, err := b.Send(context.Background(), payload, hostOrigin, bridge.SendOptions{RequiresResponse: true})
			testutil.AssertKind(t, err, errs.KindInvalidMessage)
		})
	}
	assert.Empty(t, tr.Posted())
	assert.Equal(t, 0, b.Pending())
}

func TestTransportFailure(t *testing.T) {
	cause := errors.New("pipe broken")
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin}, testutil.NewFailingTransport(t, cause))
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Send(context.Background(), ping, hostOrigin, bridge.SendOptions{RequiresResponse: true})

	testutil.AssertKind(t, err, errs.KindTransportError)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 0, b.Pending())
}

func TestRequestContextCanceled(t *testing.T) {
	b, err := bridge.New(bridge.Config{Origin: widgetOrigin}, testutil.NewMockTransport(t))
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Request(ctx, ping, hostOrigin, time.Minute)

	testutil.AssertKind(t, err, errs.KindCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Pending())
}

func TestRemoteErrorCarriesDetails(t *testing.T) {
	host, widget, _, _ := pair(t)
	host.RegisterHandler("quota", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		return nil, errs.New(errs.KindRemoteError, "quota exceeded").WithDetails(map[string]int{"limit": 3})
	})
	host.RegisterHandler("boom", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := widget.Request(context.Background(), map[string]string{"type": "quota"}, hostOrigin, 0)
	be := testutil.AssertKind(t, err, errs.KindRemoteError)
	assert.Equal(t, "quota exceeded", be.Message)
	assert.Equal(t, map[string]any{"limit": float64(3)}, be.Details)

	_, err = widget.Request(context.Background(), map[string]string{"type": "boom"}, hostOrigin, 0)
	be = testutil.AssertKind(t, err, errs.KindRemoteError)
	assert.Equal(t, "boom", be.Message)
	assert.Nil(t, be.Details)
}

func TestHandlerResultEdgeCases(t *testing.T) {
	host, widget, _, _ := pair(t)
	host.RegisterHandler("nothing", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		return nil, nil
	})
	host.RegisterHandler("unencodable", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		return map[string]any{"fn": func() {}}, nil
	})
	host.RegisterHandler("typed-nil", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		var result *struct{ A int }
		return result, nil
	})
	host.RegisterHandler("nil-map", func(context.Context, json.RawMessage, router.Meta) (any, error) {
		var result map[string]any
		return result, nil
	})

	for _, typ := range []string{"nothing", "typed-nil", "nil-map"} {
		raw, err := widget.Request(context.Background(), map[string]string{"type": typ}, hostOrigin, time.Second)
		require.NoError(t, err, typ)
		assert.JSONEq(t, `{}`, string(raw), typ)
	}

	_, err := widget.Request(context.Background(), map[string]string{"type": "unencodable"}, hostOrigin, 0)
	testutil.AssertKind(t, err, errs.KindRemoteError)
}

func TestFireAndForget(t *testing.T) {
	host, widget, hostEvents, _ := pair(t)
	got := make(chan router.Meta, 1)
	host.OnMessage(func(_ context.Context, _ json.RawMessage, meta router.Meta) {
		assert.NoError(t, meta.Respond("nobody asked"))
		got <- meta
	})

	call, err := widget.Send(context.Background(), map[string]string{"type": "note"}, hostOrigin, bridge.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, correlation.StateSent, call.State())
	reply, err := call.Result()
	require.NoError(t, err)
	assert.True(t, reply.Sent)
	assert.Equal(t, call.ID(), reply.ID)
	assert.Equal(t, 0, widget.Pending())

	select {
	case meta := <-got:
		assert.Equal(t, widgetOrigin, meta.Source)
		assert.Equal(t, call.ID(), meta.MessageID)
		assert.Equal(t, "note", meta.Type)
		assert.False(t, meta.RequiresResponse)
	case <-time.After(time.Second):
		t.Fatal("fallback not invoked")
	}
	assert.Eventually(t, func() bool { return hostEvents.has(bridge.InboundSilent, "") }, time.Second, time.Millisecond)
}

func TestFallbackResponds(t *testing.T) {
	host, widget, _, _ := pair(t)
	host.OnMessage(func(_ context.Context, _ json.RawMessage, meta router.Meta) {
		_ = meta.Respond(map[string]string{"echo": meta.Type})
	})

	raw, err := widget.Request(context.Background(), map[string]string{"type": "custom"}, hostOrigin, 0)

	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"custom"}`, string(raw))
}

func TestDeadLetter(t *testing.T) {
	_, widget, hostEvents, _ := pair(t)

	_, err := widget.Request(context.Background(), map[string]string{"type": "unknown"}, hostOrigin, 100*time.Millisecond)

	testutil.AssertKind(t, err, errs.KindResponseTimeout)
	assert.True(t, hostEvents.has(bridge.InboundDropped, bridge.ReasonDeadLetter))
}

func TestAllowlistChanges(t *testing.T) {
	host, widget, hostEvents, _ := pair(t)
	host.RegisterHandler("ping", pong)

	host.AllowOrigins(nil)
	assert.Empty(t, host.AllowedOrigins())
	_, err := widget.Request(context.Background(), ping, hostOrigin, 100*time.Millisecond)
	testutil.AssertKind(t, err, errs.KindResponseTimeout)
	assert.True(t, hostEvents.has(bridge.InboundDropped, bridge.ReasonForbiddenOrigin))

	host.AddOrigins("https://*.test")
	assert.True(t, host.IsAllowed(widgetOrigin))
	raw, err := widget.Request(context.Background(), ping, hostOrigin, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(raw))
}

func TestReceiveValidation(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	rec := &events{}
	b, err := bridge.New(bridge.Config{Origin: hostOrigin, AllowedOrigins: []string{widgetOrigin}}, tr,
		bridge.WithInboundObserver(rec.observe))
	require.NoError(t, err)
	defer b.Close()

	stale := envelope.NewCodec(widgetOrigin, envelope.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Minute)
	}))
	_, staleData, err := stale.Encode(ping, hostOrigin, envelope.EncodeOptions{})
	require.NoError(t, err)

	require.True(t, tr.Deliver(transport.Inbound{Origin: widgetOrigin, Data: []byte("not json")}))
	require.True(t, tr.Deliver(transport.Inbound{Origin: widgetOrigin, Data: staleData}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var invalid []bridge.InboundEvent
	for _, ev := range rec.list {
		if ev.State == bridge.InboundDropped {
			invalid = append(invalid, ev)
		}
	}
	require.Len(t, invalid, 2)
	assert.Equal(t, bridge.ReasonInvalid, invalid[0].Reason)
	assert.ErrorIs(t, invalid[0].Err, errs.ErrInvalidMessage)
	assert.Equal(t, bridge.ReasonInvalid, invalid[1].Reason)
	assert.NotEmpty(t, invalid[1].MessageID)
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	rec := &events{}
	b, err := bridge.New(bridge.Config{Origin: hostOrigin, AllowedOrigins: []string{widgetOrigin}}, tr,
		bridge.WithInboundObserver(rec.observe))
	require.NoError(t, err)
	defer b.Close()

	peer := envelope.NewCodec(widgetOrigin)
	_, data, err := peer.EncodeResponse("msg_never_sent", hostOrigin, envelope.StatusSuccess, true)
	require.NoError(t, err)

	tr.Deliver(transport.Inbound{Origin: widgetOrigin, Data: data})

	assert.True(t, rec.has(bridge.InboundDropped, bridge.ReasonUnmatched))
	_, correlated := rec.find(bridge.InboundCorrelated)
	assert.False(t, correlated)
}

func TestResponseIsPostedToSource(t *testing.T) {
	tr := testutil.NewMockTransport(t)
	b, err := bridge.New(bridge.Config{Origin: hostOrigin, AllowedOrigins: []string{widgetOrigin}}, tr)
	require.NoError(t, err)
	b.RegisterHandler("ping", pong)

	peer := envelope.NewCodec(widgetOrigin)
	req, data, err := peer.Encode(ping, hostOrigin, envelope.EncodeOptions{RequiresResponse: true})
	require.NoError(t, err)
	tr.Deliver(transport.Inbound{Origin: widgetOrigin, Data: data})

	// Close waits for the dispatched handler
	require.NoError(t, b.Close())

	posted := tr.Posted()
	require.Len(t, posted, 1)
	tr.AssertCalled(t, "Post", mock.Anything, widgetOrigin, mock.Anything)

	resp := testutil.DecodeJSON(t, posted[0])
	assert.Equal(t, req.ID, resp["responseToId"])
	assert.Equal(t, true, resp["isResponse"])
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, hostOrigin, resp["source"])
	assert.Equal(t, widgetOrigin, resp["target"])
	assert.Equal(t, map[string]any{"pong": true}, resp["payload"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetrics(reg)
	host, widget, _, _ := pair(t, bridge.WithMetrics(m))
	host.RegisterHandler("ping", pong)

	_, err := widget.Request(context.Background(), ping, hostOrigin, 0)
	require.NoError(t, err)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.MessagesSent.WithLabelValues("request")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.MessagesReceived.WithLabelValues("response")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.PendingRequests))
	assert.Equal(t, 1, promtest.CollectAndCount(m.RequestDuration))
}

func TestDiagnosticLogging(t *testing.T) {
	// the logger sits at info, as in production; debug mode alone surfaces traces
	for _, debug := range []bool{true, false} {
		core, logs := observer.New(zapcore.InfoLevel)
		tr := testutil.NewMockTransport(t)
		b, err := bridge.New(bridge.Config{Origin: hostOrigin, Debug: debug}, tr,
			bridge.WithLogger(logging.Wrap(zap.New(core))))
		require.NoError(t, err)

		tr.Deliver(transport.Inbound{Origin: "https://evil.test", Data: []byte("{}")})
		require.NoError(t, b.Close())

		want := 0
		if debug {
			want = 1
		}
		assert.Equal(t, want, logs.FilterMessage("Message dropped").Len(), "debug=%v", debug)
	}
}

func TestBridgesShareNoState(t *testing.T) {
	net := memory.NewNetwork()
	a, _ := connect(t, net, "https://a.test", []string{"https://c.test"})
	b, _ := connect(t, net, "https://b.test", nil)
	a.RegisterHandler("ping", pong)

	assert.True(t, a.IsAllowed("https://c.test"))
	assert.False(t, b.IsAllowed("https://c.test"))

	c, _ := connect(t, net, "https://c.test", []string{"*"})
	_, err := c.Request(context.Background(), ping, "https://b.test", 100*time.Millisecond)
	testutil.AssertKind(t, err, errs.KindResponseTimeout)
	raw, err := c.Request(context.Background(), ping, "https://a.test", 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(raw))
}
