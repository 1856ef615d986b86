package indicators

import "fmt"

// Indicator consumes one value per bar.
type Indicator interface {
	Name() string
	Warmup() int
	Reset()
	Update(v float64)
	Ready() bool
	Value() float64
}

// SimpleMA is a streaming Simple Moving Average over a fixed window.
type SimpleMA struct {
	period int
	buf    []float64
	next   int
	count  int
	sum    float64
}

// NewMA creates a new Simple Moving Average indicator with the given period
func NewMA(period int) *SimpleMA {
	if period <= 0 {
		panic("indicators: MA period must be > 0")
	}
	return &SimpleMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (m *SimpleMA) Name() string {
	return fmt.Sprintf("MA(%d)", m.period)
}

func (m *SimpleMA) Warmup() int {
	return m.period
}

func (m *SimpleMA) Reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.next, m.count, m.sum = 0, 0, 0
}

func (m *SimpleMA) Update(v float64) {
	if m.count == m.period {
		m.sum -= m.buf[m.next]
	} else {
		m.count++
	}
	m.buf[m.next] = v
	m.sum += v
	m.next = (m.next + 1) % m.period

	// resum once per lap to keep rounding drift bounded
	if m.next == 0 {
		m.sum = 0
		for _, x := range m.buf {
			m.sum += x
		}
	}
}

func (m *SimpleMA) Ready() bool {
	return m.count >= m.period
}

func (m *SimpleMA) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.sum / float64(m.period)
}

// ExponentialMA is a streaming Exponential Moving Average indicator
type ExponentialMA struct {
	period     int
	multiplier float64
	ema        float64
	count      int
	warmupSum  float64
}

// NewEMA creates a new Exponential Moving Average indicator with the given period
func NewEMA(period int) *ExponentialMA {
	if period <= 0 {
		panic("indicators: EMA period must be > 0")
	}
	return &ExponentialMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *ExponentialMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *ExponentialMA) Warmup() int {
	return e.period
}

func (e *ExponentialMA) Reset() {
	e.ema = 0
	e.count = 0
	e.warmupSum = 0
}

func (e *ExponentialMA) Update(v float64) {
	if e.count < e.period {
		// seed with the SMA of the first period values
		e.warmupSum += v
		e.count++
		if e.count == e.period {
			e.ema = e.warmupSum / float64(e.period)
		}
		return
	}
	e.ema = (v-e.ema)*e.multiplier + e.ema
}

func (e *ExponentialMA) Ready() bool {
	return e.count >= e.period
}

func (e *ExponentialMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.ema
}
