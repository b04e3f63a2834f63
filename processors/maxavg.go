package processors

import (
	"strconv"
	"strings"

	"flights-pipeline/stage"
)

// MaxAvg computes the average and max price for one route record and
// emits it immediately, propagating EOF downstream without waiting on
// its own ring (grounded on processors/max_avg/max_avg.py, which returns
// ResponseType.SEND_EOF per record — it is stateless, one record in, one
// record + EOF out).
type MaxAvg struct{}

// NewMaxAvg satisfies stage.Factory.
func NewMaxAvg(uint64) stage.Processor { return &MaxAvg{} }

func (p *MaxAvg) Process(fields map[string]string) stage.Response {
	prices := strings.Split(fields["prices"], ";")
	var sum, max float64
	for i, s := range prices {
		v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
		sum += v
		if i == 0 || v > max {
			max = v
		}
	}
	avg := sum / float64(len(prices))

	out := map[string]string{
		"route":     fields["route"],
		"avg":       strconv.FormatFloat(avg, 'f', 2, 64),
		"max_price": strconv.FormatFloat(max, 'f', 2, 64),
	}
	return stage.Finish(out)
}

func (p *MaxAvg) FinishProcessing() stage.Response { return stage.NoOutput() }
