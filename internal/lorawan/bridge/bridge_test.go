package bridge

import (
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/loranode/helpers"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/sched"
	"github.com/temoto/loranode/log2"
	"github.com/temoto/spq"
)

func testCredentials() lorawan.Credentials {
	return lorawan.Credentials{
		DevEUI:       lorawan.EUI64{0x00, 0xF3, 0x7E, 0xCF, 0x17, 0x38, 0xF5, 0xFC},
		AppEUI:       lorawan.EUI64{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x00, 0xA1, 0x03},
		AppKey:       lorawan.AES128Key{0x4C, 0x1F},
		JoinAttempts: 3,
	}
}

type env struct {
	t      testing.TB
	b      *MemBroker
	s      *sched.Mock
	st     *Stack
	events []lorawan.Event
}

// gateway=true answers join requests like network server would
func newEnv(t testing.TB, c Config, gateway bool) *env {
	c.QueuePath = spq.OnlyForTesting
	e := &env{t: t, b: NewMemBroker(), s: sched.NewMock()}
	if gateway {
		creds := testCredentials()
		joinTopic := Topic(DefaultTopicPrefix, creds.DevEUI, "join")
		downTopic := Topic(DefaultTopicPrefix, creds.DevEUI, "down")
		e.b.OnPublish = func(topic string, payload []byte) {
			if topic != joinTopic {
				return
			}
			accept, _ := proto.Marshal(&Frame{Kind: FrameJoinAccept, DevEui: creds.DevEUI[:]})
			e.b.Deliver(downTopic, accept)
		}
	}
	e.st = New(log2.NewTest(t, log2.LDebug), c, e.b)
	require.NoError(t, e.st.Initialize(e.s))
	e.st.AddEventCallback(func(ev lorawan.Event) { e.events = append(e.events, ev) })
	return e
}

// waitEvents dispatches events produced by background workers until n arrived.
func (e *env) waitEvents(n int) []lorawan.Event {
	require.Eventually(e.t, func() bool {
		e.s.FireDue()
		return len(e.events) >= n
	}, 3*time.Second, time.Millisecond)
	return e.events
}

func TestJoinSendReceive(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{NetworkTimeout: time.Second, DutyCyclePercent: 1}, true)
	creds := testCredentials()
	_, err := e.st.Send(15, []byte{1}, lorawan.FlagUnconfirmed)
	assert.Equal(t, lorawan.StatusNoNetworkJoined, err)

	require.NoError(t, e.st.SetConfirmedRetries(3))
	require.NoError(t, e.st.EnableADR())
	assert.Equal(t, lorawan.StatusConnectInProgress, e.st.Connect(creds))
	assert.Equal(t, []lorawan.Event{lorawan.EventConnected}, e.waitEvents(1))
	assert.True(t, e.st.Joined())
	assert.Equal(t, lorawan.StatusAlreadyConnected, e.st.Connect(creds))

	payload := []byte{0x01, 0x67, 0x00, 0xe1}
	n, err := e.st.Send(15, payload, lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	// duty cycle 1% closes band right after transmission
	_, err = e.st.Send(15, payload, lorawan.FlagUnconfirmed)
	assert.Equal(t, lorawan.StatusWouldBlock, errors.Cause(err))
	assert.Equal(t, lorawan.EventTxDone, e.waitEvents(2)[1])

	var up *Frame
	for _, m := range e.b.Published() {
		if m.Topic == Topic(DefaultTopicPrefix, creds.DevEUI, "up") {
			up = &Frame{}
			require.NoError(t, proto.Unmarshal(m.Payload, up))
		}
	}
	require.NotNil(t, up)
	assert.Equal(t, FrameUplink, up.Kind)
	assert.Equal(t, uint32(15), up.FPort)
	assert.Equal(t, uint32(1), up.FCnt)
	assert.Equal(t, payload, up.Payload)
	assert.False(t, up.Confirmed)

	var buf [50]byte
	_, err = e.st.Receive(15, buf[:], lorawan.FlagConfirmed|lorawan.FlagUnconfirmed)
	assert.Equal(t, lorawan.StatusWouldBlock, err)
	down, err := proto.Marshal(&Frame{Kind: FrameDownlink, FPort: 15, Payload: helpers.MustHex("cafe"), Pending: true})
	require.NoError(t, err)
	require.True(t, e.b.Deliver(Topic(DefaultTopicPrefix, creds.DevEUI, "down"), down))
	assert.Equal(t, []lorawan.Event{lorawan.EventRxDone, lorawan.EventUplinkRequired}, e.waitEvents(4)[2:])
	n, err = e.st.Receive(15, buf[:], lorawan.FlagConfirmed|lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, helpers.MustHex("cafe"), buf[:n])

	require.True(t, e.b.Deliver(Topic(DefaultTopicPrefix, creds.DevEUI, "down"), []byte{0xff, 0xff}))
	assert.Equal(t, lorawan.EventRxError, e.waitEvents(5)[4])

	stat := e.st.Stat()
	assert.Equal(t, uint32(1), stat.Published)
	assert.Equal(t, uint32(1), stat.JoinRequests)
	assert.Equal(t, uint32(1), stat.Downlinks)

	require.NoError(t, e.st.Close())
	<-e.st.Done()
	assert.Equal(t, lorawan.EventDisconnected, e.waitEvents(6)[5])
	assert.False(t, e.st.Joined())
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{NetworkTimeout: 30 * time.Millisecond, PublishRetries: 2}, true)
	assert.Equal(t, lorawan.StatusConnectInProgress, e.st.Connect(testCredentials()))
	e.waitEvents(1)

	e.b.SetPublishErr(errors.Annotate(ErrPublishTimeout, "test"), errors.Annotate(ErrPublishTimeout, "test"))
	_, err := e.st.Send(15, []byte{1, 2, 3}, lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, lorawan.EventTxTimeout, e.waitEvents(2)[1])

	e.b.SetPublishErr(errors.New("broker gone"), errors.New("broker gone"))
	_, err = e.st.Send(15, []byte{1, 2, 3}, lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, lorawan.EventTxError, e.waitEvents(3)[2])

	// recovered
	_, err = e.st.Send(15, []byte{1, 2, 3}, lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	assert.Equal(t, lorawan.EventTxDone, e.waitEvents(4)[3])

	stat := e.st.Stat()
	assert.Equal(t, uint32(4), stat.PublishErrors)
	assert.Equal(t, uint32(1), stat.Published)
	require.NoError(t, e.st.Close())
	<-e.st.Done()
}

func TestJoinFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{NetworkTimeout: 10 * time.Millisecond}, false)
	creds := testCredentials()
	creds.JoinAttempts = 2
	assert.Equal(t, lorawan.StatusConnectInProgress, e.st.Connect(creds))
	assert.Equal(t, []lorawan.Event{lorawan.EventJoinFailure}, e.waitEvents(1))
	assert.False(t, e.st.Joined())
	assert.Equal(t, uint32(2), e.st.Stat().JoinRequests)

	joins := 0
	for _, m := range e.b.Published() {
		var f Frame
		require.NoError(t, proto.Unmarshal(m.Payload, &f))
		assert.Equal(t, FrameJoinRequest, f.Kind)
		joins++
		assert.Equal(t, uint32(joins), f.DevNonce)
	}
	assert.Equal(t, 2, joins)

	// join failure leaves stack idle, close reports nothing
	require.NoError(t, e.st.Close())
	<-e.st.Done()
	e.s.FireDue()
	assert.Equal(t, 1, len(e.events))
}

func TestCloseDuringPublish(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{NetworkTimeout: time.Second}, true)
	creds := testCredentials()
	assert.Equal(t, lorawan.StatusConnectInProgress, e.st.Connect(creds))
	e.waitEvents(1)

	upTopic := Topic(DefaultTopicPrefix, creds.DevEUI, "up")
	entered := make(chan struct{})
	release := make(chan struct{})
	e.b.SetOnPublish(func(topic string, payload []byte) {
		if topic == upTopic {
			close(entered)
			<-release
		}
	})
	_, err := e.st.Send(15, []byte{1}, lorawan.FlagUnconfirmed)
	require.NoError(t, err)
	<-entered

	// Close runs on dispatch goroutine, it must not wait for slow broker
	begin := time.Now()
	require.NoError(t, e.st.Close())
	assert.True(t, time.Since(begin) < 500*time.Millisecond)
	require.NoError(t, e.st.Close())
	assert.False(t, e.st.Joined())
	select {
	case <-e.st.Done():
		t.Fatal("teardown finished while publish in flight")
	default:
	}
	e.s.FireDue()
	assert.Equal(t, []lorawan.Event{lorawan.EventConnected}, e.events)

	close(release)
	select {
	case <-e.st.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("teardown did not finish")
	}
	events := e.waitEvents(2)
	assert.Equal(t, lorawan.EventDisconnected, events[len(events)-1])
	assert.Equal(t, lorawan.StatusDeviceOff, e.st.Connect(creds))
}

func TestConnectInvalid(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Config{}, false)
	creds := testCredentials()
	creds.DevEUI = lorawan.EUI64{}
	assert.Equal(t, lorawan.StatusParameterInvalid, e.st.Connect(creds))
	require.NoError(t, e.st.Close())
	<-e.st.Done()
}
