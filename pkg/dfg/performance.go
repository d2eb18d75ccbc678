package dfg

import (
	"slices"
	"time"

	"github.com/logflow/dfgflow/internal/model"
)

// Durations summarises the time gaps observed for one directly-follows pair.
// Gaps are measured in whole seconds and negative gaps count as zero.
type Durations struct {
	Count  int64         `json:"count"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
}

// DiscoverPerformance computes, for every directly-follows pair, statistics
// over the time between the two events. It validates like Discover.
func DiscoverPerformance(log *model.EventLog) (map[model.Pair]Durations, error) {
	gaps := make(map[model.Pair][]int64)
	if log != nil {
		for i := range log.Traces {
			tr := &log.Traces[i]
			if err := validateTrace(tr, i); err != nil {
				return nil, err
			}
			for j := 0; j+1 < len(tr.Events); j++ {
				a, b := &tr.Events[j], &tr.Events[j+1]
				p := model.Pair{Source: a.Activity, Target: b.Activity}
				gaps[p] = append(gaps[p], gapSeconds(a.Timestamp, b.Timestamp))
			}
		}
	}

	perf := make(map[model.Pair]Durations, len(gaps))
	for p, secs := range gaps {
		perf[p] = summarize(secs)
	}
	return perf, nil
}

func gapSeconds(from, to time.Time) int64 {
	d := int64(to.Sub(from) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}

// summarize sorts secs in place. The median of an even-length list is the
// truncated mean of the two middle values.
func summarize(secs []int64) Durations {
	slices.Sort(secs)
	n := len(secs)

	var sum int64
	for _, s := range secs {
		sum += s
	}

	median := secs[n/2]
	if n%2 == 0 {
		median = (secs[n/2-1] + secs[n/2]) / 2
	}

	return Durations{
		Count:  int64(n),
		Min:    time.Duration(secs[0]) * time.Second,
		Max:    time.Duration(secs[n-1]) * time.Second,
		Mean:   time.Duration(float64(sum) / float64(n) * float64(time.Second)),
		Median: time.Duration(median) * time.Second,
	}
}
