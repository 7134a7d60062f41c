package lorawan

import (
	"math"
	"time"

	"github.com/temoto/loranode/helpers/atomic_clock"
)

// Frame overhead added to application payload: MHDR(1) FHDR(7) FPort(1) MIC(4)
const FrameOverhead = 13

type RadioParams struct {
	SpreadingFactor int // 7..12
	BandwidthKHz    int // 125, 250, 500
	CodingRate      int // 1..4 means 4/5..4/8
	Preamble        int // symbols, default 8
}

func DefaultRadioParams() RadioParams {
	return RadioParams{SpreadingFactor: 7, BandwidthKHz: 125, CodingRate: 1, Preamble: 8}
}

// TimeOnAir of LoRa frame carrying payloadLen application bytes, explicit header, CRC on.
func (p RadioParams) TimeOnAir(payloadLen int) time.Duration {
	sf := p.SpreadingFactor
	if sf < 6 || sf > 12 {
		sf = 7
	}
	bw := p.BandwidthKHz
	if bw <= 0 {
		bw = 125
	}
	cr := p.CodingRate
	if cr < 1 || cr > 4 {
		cr = 1
	}
	preamble := p.Preamble
	if preamble <= 0 {
		preamble = 8
	}
	de := 0
	if sf >= 11 && bw == 125 {
		de = 1 // low data rate optimize
	}
	pl := payloadLen + FrameOverhead

	tsym := math.Pow(2, float64(sf)) / float64(bw*1000) // seconds
	tpreamble := (float64(preamble) + 4.25) * tsym
	num := float64(8*pl - 4*sf + 28 + 16)
	den := float64(4 * (sf - 2*de))
	nsym := 8 + math.Max(math.Ceil(num/den)*float64(cr+4), 0)
	seconds := tpreamble + nsym*tsym
	return time.Duration(seconds * float64(time.Second))
}

// DutyCycle tracks regulatory airtime budget of single sub-band.
// After transmission of airtime T the band is closed for T*(100/Percent - 1).
// Percent <= 0 or >= 100 disables restriction.
type DutyCycle struct {
	Percent float64
	until   atomic_clock.Clock
}

func NewDutyCycle(percent float64) *DutyCycle { return &DutyCycle{Percent: percent} }

func (d *DutyCycle) restricted() bool { return d.Percent > 0 && d.Percent < 100 }

// Wait returns how long band stays closed, 0 if transmission is allowed now.
func (d *DutyCycle) Wait(now time.Time) time.Duration {
	if !d.restricted() || d.until.IsZero() {
		return 0
	}
	w := d.until.Time().Sub(now)
	if w < 0 {
		return 0
	}
	return w
}

// Consume accounts transmission starting at now.
func (d *DutyCycle) Consume(now time.Time, airtime time.Duration) {
	if !d.restricted() {
		return
	}
	total := time.Duration(float64(airtime) * 100 / d.Percent)
	d.until.SetLater(now.Add(total).UnixNano())
}

// Reserve checks and consumes budget in one step.
// Returns StatusWouldBlock when band is closed.
func (d *DutyCycle) Reserve(now time.Time, airtime time.Duration) error {
	if d.Wait(now) > 0 {
		return StatusWouldBlock
	}
	d.Consume(now, airtime)
	return nil
}
