package processors

import (
	"strings"

	"flights-pipeline/stage"
)

// Grouper accumulates totalFare per route for one client, emitting one
// aggregate record per route once the stream ends, grounded on
// processors/grouper/main.py's vuelos_input_fields/vuelos_output_fields
// (route, prices semicolon-joined) feeding MaxAvg downstream.
type Grouper struct {
	prices map[string][]string
}

// NewGrouper satisfies stage.Factory.
func NewGrouper(uint64) stage.Processor {
	return &Grouper{prices: make(map[string][]string)}
}

func (p *Grouper) Process(fields map[string]string) stage.Response {
	route := fields["startingAirport"] + "-" + fields["destinationAirport"]
	p.prices[route] = append(p.prices[route], fields["totalFare"])
	return stage.NoOutput()
}

func (p *Grouper) FinishProcessing() stage.Response {
	var out []map[string]string
	for route, prices := range p.prices {
		out = append(out, map[string]string{
			"route":  route,
			"prices": strings.Join(prices, ";"),
		})
	}
	return stage.Many(out)
}
