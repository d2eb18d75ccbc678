package timeparse

// DateOrder is the field order of a slash- or dash-separated date.
type DateOrder string

const (
	OrderYMD DateOrder = "YMD"
	OrderDMY DateOrder = "DMY"
	OrderMDY DateOrder = "MDY"
)

// Layout returns the Go layout for dates in this order with a time component.
func (o DateOrder) Layout() string {
	switch o {
	case OrderDMY:
		return "02/01/2006 15:04:05"
	case OrderMDY:
		return "01/02/2006 15:04:05"
	default:
		return "2006-01-02 15:04:05"
	}
}

// DateOrderDetector resolves DD/MM vs MM/DD ambiguity from sample values.
type DateOrderDetector struct {
	samples    [][]byte
	maxSamples int
}

// NewDateOrderDetector creates a detector that keeps at most maxSamples values.
func NewDateOrderDetector(maxSamples int) *DateOrderDetector {
	return &DateOrderDetector{
		samples:    make([][]byte, 0, maxSamples),
		maxSamples: maxSamples,
	}
}

// AddSample records a timestamp sample. The value is copied.
func (d *DateOrderDetector) AddSample(ts []byte) {
	if len(d.samples) >= d.maxSamples {
		return
	}
	cp := make([]byte, len(ts))
	copy(cp, ts)
	d.samples = append(d.samples, cp)
}

// Detect returns the most likely order. A first field above 12 can only be a day,
// a second field above 12 can only be a day with the month first.
func (d *DateOrderDetector) Detect() DateOrder {
	dayFirst, monthFirst := 0, 0

	for _, sample := range d.samples {
		parts := splitDateParts(sample)
		if len(parts) < 3 || len(parts[0]) == 4 {
			continue
		}

		first := parseInt2(parts[0])
		second := parseInt2(parts[1])

		if first > 12 {
			dayFirst++
		}
		if second > 12 {
			monthFirst++
		}
	}

	switch {
	case dayFirst > monthFirst:
		return OrderDMY
	case monthFirst > dayFirst:
		return OrderMDY
	default:
		return OrderYMD
	}
}

// splitDateParts splits the date portion on '/', '-' and '.'.
func splitDateParts(b []byte) [][]byte {
	var parts [][]byte
	start := 0

	for i := 0; i < len(b); i++ {
		if b[i] == ' ' || b[i] == 'T' {
			b = b[:i]
			break
		}
	}

	for i := 0; i < len(b); i++ {
		if b[i] == '/' || b[i] == '-' || b[i] == '.' {
			if start < i {
				parts = append(parts, b[start:i])
			}
			start = i + 1
		}
	}
	if start < len(b) {
		parts = append(parts, b[start:])
	}

	return parts
}
