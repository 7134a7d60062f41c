package lorawan

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/loranode/internal/sched"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	var err error = StatusWouldBlock
	assert.Equal(t, "lorawan: would block code=-1001", err.Error())
	assert.Equal(t, StatusWouldBlock, errors.Cause(errors.Annotate(err, "send")))
	assert.NoError(t, StatusOK.Err())
	assert.Equal(t, "status(-7)", Status(-7).String())
}

func TestEvent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "UplinkRequired", EventUplinkRequired.String())
	assert.Equal(t, "Event(200)", Event(200).String())
	for _, e := range []Event{EventTxTimeout, EventTxError, EventTxCryptoError, EventTxSchedulingError} {
		assert.True(t, e.IsTxFailure(), e.String())
	}
	assert.False(t, EventTxDone.IsTxFailure())
	assert.True(t, (FlagConfirmed | FlagUnconfirmed).Has(FlagConfirmed))
	assert.False(t, FlagUnconfirmed.Has(FlagConfirmed))
}

func TestParseCredentials(t *testing.T) {
	t.Parallel()

	eui, err := ParseEUI64("00F37ECF1738F5FC")
	require.NoError(t, err)
	assert.Equal(t, EUI64{0x00, 0xF3, 0x7E, 0xCF, 0x17, 0x38, 0xF5, 0xFC}, eui)
	assert.Equal(t, "00F37ECF1738F5FC", eui.String())

	eui2, err := ParseEUI64("70:b3:d5:7e:d0:00:a1:03")
	require.NoError(t, err)
	assert.Equal(t, byte(0x70), eui2[0])

	_, err = ParseEUI64("00F3")
	assert.True(t, errors.IsNotValid(errors.Cause(err)), "err=%v", err)
	_, err = ParseAES128Key("zz")
	assert.Error(t, err)

	key, err := ParseAES128Key("4C1FA5857EE3DE5CE21F96FC04415378")
	require.NoError(t, err)
	assert.Equal(t, "<secret>", key.String())

	c := Credentials{DevEUI: eui, AppEUI: eui2, AppKey: key}
	assert.Error(t, c.Validate(), "join_attempts=0")
	c.JoinAttempts = 10
	assert.NoError(t, c.Validate())
}

func TestTimeOnAir(t *testing.T) {
	t.Parallel()

	p := DefaultRadioParams()
	// 5 bytes LPP temperature + 13 overhead at SF7/125kHz
	toa := p.TimeOnAir(5)
	assert.InDelta(t, 51.456, float64(toa)/float64(time.Millisecond), 0.01)

	slow := RadioParams{SpreadingFactor: 12, BandwidthKHz: 125}
	assert.True(t, slow.TimeOnAir(5) > 20*toa, "SF12 toa=%s", slow.TimeOnAir(5))
}

func TestDutyCycle(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := NewDutyCycle(1)
	require.NoError(t, d.Reserve(now, 50*time.Millisecond))
	assert.Equal(t, 5*time.Second, d.Wait(now))
	assert.Equal(t, StatusWouldBlock, d.Reserve(now.Add(4*time.Second), time.Millisecond))
	assert.Equal(t, time.Duration(0), d.Wait(now.Add(5*time.Second)))
	require.NoError(t, d.Reserve(now.Add(5*time.Second), 50*time.Millisecond))

	free := NewDutyCycle(0)
	for i := 0; i < 3; i++ {
		require.NoError(t, free.Reserve(now, time.Second))
	}
}

func TestMockEmit(t *testing.T) {
	t.Parallel()

	m := NewMock()
	assert.Error(t, m.Emit(EventConnected))

	s := sched.NewMock()
	require.NoError(t, m.Initialize(s))
	got := []Event{}
	m.AddEventCallback(func(e Event) { got = append(got, e) })
	require.NoError(t, m.Emit(EventRxDone))
	assert.Equal(t, 0, len(got), "delivered only through scheduler")
	s.FireDue()
	assert.Equal(t, []Event{EventRxDone}, got)

	m.SendResults = []SendResult{{Err: StatusWouldBlock}}
	_, err := m.Send(15, []byte{1}, FlagUnconfirmed)
	assert.Equal(t, StatusWouldBlock, err)
	n, err := m.Send(15, []byte{1, 2}, FlagUnconfirmed)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.SendCount())
}
