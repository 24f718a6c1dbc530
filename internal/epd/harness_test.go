package epd

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

var errBus = errors.New("bus write failed")

// recorder captures everything the driver does as a flat script:
//
//	"rst L", "sleep 10ms", "cmd 00", "data EF08", "wait L", ...
//
// Each "cmd"/"data" entry is one chip-select frame; a frame whose Tx failed
// is logged as "abort". Inconsistent line handling is collected in
// violations.
type recorder struct {
	conntest.Record

	log        []string
	violations []string

	// failAt makes the n-th Tx (1-based) fail with errBus. 0 never fails.
	failAt int
	txs    int

	maxTx int

	cs, dc, rst, busy *tracePin

	// frame being assembled while cs is low.
	open    bool
	aborted bool
	mode    gpio.Level
	bytes   []byte
	parts   int
}

func (r *recorder) Tx(w, read []byte) error {
	r.txs++
	if r.failAt != 0 && r.txs == r.failAt {
		r.aborted = true
		return errBus
	}
	if !r.open {
		r.violations = append(r.violations, fmt.Sprintf("Tx % X outside chip-select", w))
	}
	if r.maxTx > 0 && len(w) > r.maxTx {
		r.violations = append(r.violations, fmt.Sprintf("Tx of %d bytes over limit %d", len(w), r.maxTx))
	}
	r.bytes = append(r.bytes, w...)
	r.parts++
	return r.Record.Tx(w, read)
}

func (r *recorder) Duplex() conn.Duplex { return conn.Half }

func (r *recorder) String() string { return "recorder" }

// limitedRecorder exposes conn.Limits.
type limitedRecorder struct {
	*recorder
}

func (l limitedRecorder) MaxTxSize() int { return l.maxTx }

func (r *recorder) pin(p *tracePin, l gpio.Level) {
	switch p {
	case r.cs:
		if l == gpio.Low {
			if r.open {
				r.violations = append(r.violations, "cs asserted twice")
			}
			r.open, r.mode, r.bytes, r.parts = true, r.dc.Read(), nil, 0
			return
		}
		if !r.open {
			return
		}
		r.open = false
		if r.aborted {
			r.aborted = false
			r.log = append(r.log, "abort")
			return
		}
		if r.dc.Read() != r.mode {
			r.violations = append(r.violations, "dc changed inside a transaction")
		}
		kind := "data"
		if r.mode == gpio.Low {
			kind = "cmd"
			if len(r.bytes) != 1 {
				r.violations = append(r.violations, fmt.Sprintf("command frame of %d bytes", len(r.bytes)))
			}
		}
		r.log = append(r.log, fmt.Sprintf("%s %X", kind, r.bytes))
	case r.dc:
		if r.open {
			r.violations = append(r.violations, "dc toggled while cs asserted")
		}
	case r.rst:
		r.log = append(r.log, fmt.Sprintf("rst %s", levelName(l)))
	}
}

func (r *recorder) wait(busy gpio.PinIn, l gpio.Level) error {
	if r.open {
		r.violations = append(r.violations, "wait while cs asserted")
	}
	if busy != r.busy {
		r.violations = append(r.violations, "wait on a pin other than busy")
	}
	r.log = append(r.log, fmt.Sprintf("wait %s", levelName(l)))
	return nil
}

func (r *recorder) sleep(d time.Duration) {
	r.log = append(r.log, fmt.Sprintf("sleep %s", d))
}

// tracePin reports every Out to the recorder.
type tracePin struct {
	*gpiotest.Pin
	r *recorder
}

func (p *tracePin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.r.pin(p, l)
	return nil
}

func levelName(l gpio.Level) string {
	if l == gpio.High {
		return "H"
	}
	return "L"
}

func newRecorder() *recorder {
	r := &recorder{}
	r.cs = &tracePin{Pin: &gpiotest.Pin{N: "CS", L: gpio.High}, r: r}
	r.dc = &tracePin{Pin: &gpiotest.Pin{N: "DC"}, r: r}
	r.rst = &tracePin{Pin: &gpiotest.Pin{N: "RST", L: gpio.High}, r: r}
	r.busy = &tracePin{Pin: &gpiotest.Pin{N: "BUSY", L: gpio.High}, r: r}
	return r
}

// transport builds a Transport on r with instant sleeps and recorded waits.
func (r *recorder) transport() *Transport {
	var c conn.Conn = r
	if r.maxTx > 0 {
		c = limitedRecorder{r}
	}
	t := NewTransport(c, r.cs, r.dc, r.rst, r.busy, r.wait)
	t.sleep = r.sleep
	return t
}

// newTestDev initializes a Dev on a fresh recorder and clears the log.
func newTestDev() (*Dev, *recorder, error) {
	r := newRecorder()
	d, err := newDev(r.transport())
	r.log = nil
	return d, r, err
}

// initScript is the exact initialization sequence.
var initScript = []string{
	"rst H", "sleep 10ms", "rst L", "sleep 2ms", "rst H", "sleep 200ms",
	"cmd 00", "data EF08",
	"cmd 01", "data 37002323",
	"cmd 03", "data 00",
	"cmd 06", "data C7C71D",
	"cmd 30", "data 3C",
	"cmd 40", "data 00",
	"cmd 50", "data 37",
	"cmd 60", "data 22",
	"cmd 61", "data 02", "data 58", "data 01", "data C0",
	"cmd E3", "data AA",
	"sleep 100ms",
	"cmd 50", "data 37",
}

var resolutionScript = []string{"cmd 61", "data 02", "data 58", "data 01", "data C0"}

var displayScript = []string{
	"wait L", "cmd 04",
	"wait L", "cmd 12",
	"wait L", "cmd 02",
	"wait H",
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
