package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/envbridge/internal/bridge/errs"
)

func waitFor(t *testing.T, call *Call) (Reply, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-call.Done():
	case <-ctx.Done():
		t.Fatalf("call %s did not settle", call.ID())
	}
	return call.Wait(ctx)
}

func TestResolveFulfillsWithPayload(t *testing.T) {
	table := NewTable()
	call, err := table.Register("a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatePending, call.State())
	assert.True(t, table.Has("a"))

	assert.True(t, table.Resolve("a", json.RawMessage(`{"pong":true}`)))

	reply, err := waitFor(t, call)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(reply.Payload))
	assert.Equal(t, "a", reply.ID)
	assert.Equal(t, StateResolved, call.State())
	assert.False(t, table.Has("a"))
	assert.Equal(t, 0, table.Len())
}

func TestRejectFailsWithError(t *testing.T) {
	table := NewTable()
	call, err := table.Register("a", time.Minute)
	require.NoError(t, err)

	assert.True(t, table.Reject("a", errs.Remote("a", "nope", map[string]any{"code": 1})))

	_, err = waitFor(t, call)
	require.ErrorIs(t, err, errs.ErrRemoteError)
	assert.Equal(t, "nope", err.(*errs.Error).Message)
	assert.Equal(t, StateRejected, call.State())
}

func TestTimeoutRemovesEntryAndFails(t *testing.T) {
	table := NewTable()
	call, err := table.Register("slow", 20*time.Millisecond)
	require.NoError(t, err)

	_, err = waitFor(t, call)
	require.ErrorIs(t, err, errs.ErrResponseTimeout)

	var be *errs.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "slow", be.MessageID)
	assert.GreaterOrEqual(t, be.Elapsed, 20*time.Millisecond)
	assert.Equal(t, StateTimedOut, call.State())
	assert.False(t, table.Has("slow"))

	// late arrivals are no-ops
	assert.False(t, table.Resolve("slow", json.RawMessage(`1`)))
	assert.False(t, table.Reject("slow", errors.New("late")))
	_, err = call.Result()
	assert.ErrorIs(t, err, errs.ErrResponseTimeout)
}

func TestDoubleResolutionIsNoop(t *testing.T) {
	table := NewTable()
	call, err := table.Register("a", time.Minute)
	require.NoError(t, err)

	assert.True(t, table.Resolve("a", json.RawMessage(`"first"`)))
	assert.False(t, table.Resolve("a", json.RawMessage(`"second"`)))
	assert.False(t, table.Reject("a", errors.New("third")))

	reply, err := waitFor(t, call)
	require.NoError(t, err)
	assert.Equal(t, `"first"`, string(reply.Payload))
}

func TestUnknownIDIsNoop(t *testing.T) {
	table := NewTable()
	assert.False(t, table.Resolve("ghost", nil))
	assert.False(t, table.Reject("ghost", errors.New("x")))
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	table := NewTable()
	_, err := table.Register("a", time.Minute)
	require.NoError(t, err)

	_, err = table.Register("a", time.Minute)
	assert.Error(t, err)
	_, err = table.Register("", time.Minute)
	assert.Error(t, err)
	_, err = table.Register("b", 0)
	assert.Error(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestIDReusableAfterSettlement(t *testing.T) {
	table := NewTable()
	_, err := table.Register("a", time.Minute)
	require.NoError(t, err)
	table.Resolve("a", nil)

	_, err = table.Register("a", time.Minute)
	assert.NoError(t, err)
}

func TestCloseRejectsAllPending(t *testing.T) {
	table := NewTable()
	calls := make([]*Call, 3)
	for i := range calls {
		c, err := table.Register(fmt.Sprintf("c%d", i), time.Minute)
		require.NoError(t, err)
		calls[i] = c
	}

	assert.Equal(t, 3, table.Close())
	assert.Equal(t, 0, table.Len())

	for _, c := range calls {
		_, err := waitFor(t, c)
		assert.ErrorIs(t, err, errs.ErrBridgeClosed)
		assert.Equal(t, StateClosed, c.State())
	}

	_, err := table.Register("late", time.Minute)
	assert.ErrorIs(t, err, errs.ErrBridgeClosed)
	assert.Equal(t, 0, table.Close())
}

func TestCloseStopsTimers(t *testing.T) {
	var timeouts atomic.Int32
	table := NewTable(WithSettleHook(func(_ string, state State, _ time.Duration) {
		if state == StateTimedOut {
			timeouts.Add(1)
		}
	}))
	_, err := table.Register("a", 10*time.Millisecond)
	require.NoError(t, err)
	table.Close()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), timeouts.Load())
}

func TestOutOfOrderResolution(t *testing.T) {
	table := NewTable()
	a, err := table.Register("A", time.Minute)
	require.NoError(t, err)
	b, err := table.Register("B", time.Minute)
	require.NoError(t, err)

	table.Resolve("B", json.RawMessage(`"for-b"`))
	table.Resolve("A", json.RawMessage(`"for-a"`))

	ra, err := waitFor(t, a)
	require.NoError(t, err)
	rb, err := waitFor(t, b)
	require.NoError(t, err)
	assert.Equal(t, `"for-a"`, string(ra.Payload))
	assert.Equal(t, `"for-b"`, string(rb.Payload))
}

func TestSettlesExactlyOnceUnderRace(t *testing.T) {
	for round := 0; round < 50; round++ {
		var settles atomic.Int32
		table := NewTable(WithSettleHook(func(string, State, time.Duration) { settles.Add(1) }))
		call, err := table.Register("x", time.Millisecond)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var wins atomic.Int32
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var ok bool
				switch i % 3 {
				case 0:
					ok = table.Resolve("x", json.RawMessage(`1`))
				case 1:
					ok = table.Reject("x", errors.New("r"))
				default:
					ok = table.Close() > 0
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		_, _ = waitFor(t, call)

		assert.Eventually(t, func() bool { return settles.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(2 * time.Millisecond)
		assert.Equal(t, int32(1), settles.Load())
		assert.LessOrEqual(t, wins.Load(), int32(1))
	}
}

func TestSentIsAlreadySettled(t *testing.T) {
	call := Sent("msg_1")
	select {
	case <-call.Done():
	default:
		t.Fatal("Sent call should be settled")
	}
	reply, err := call.Result()
	require.NoError(t, err)
	assert.True(t, reply.Sent)
	assert.Equal(t, "msg_1", reply.ID)
	assert.Equal(t, StateSent, call.State())
}

func TestWaitHonorsContext(t *testing.T) {
	table := NewTable()
	call, err := table.Register("a", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = call.Wait(ctx)
	assert.ErrorIs(t, err, errs.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, table.Has("a"))

	_, err = call.Result()
	assert.Error(t, err)
}

func TestReplyDecode(t *testing.T) {
	var out struct {
		Pong bool `json:"pong"`
	}
	require.NoError(t, Reply{Payload: json.RawMessage(`{"pong":true}`)}.Decode(&out))
	assert.True(t, out.Pong)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed-out", StateTimedOut.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.False(t, StatePending.Settled())
	assert.True(t, StateClosed.Settled())
}
