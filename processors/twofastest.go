// Package processors holds the concrete analytical transforms each
// pipeline stage hosts. spec.md lists these as out-of-scope external
// collaborators consumed through stage.Processor — kept intentionally
// thin here, grounded record-for-record on original_source/processors.
package processors

import (
	"regexp"
	"sort"
	"strconv"

	"flights-pipeline/stage"
)

var isoDuration = regexp.MustCompile(`P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?)?`)

// parseISODuration converts an ISO 8601 duration (PT1H30M, P1DT8M) to
// whole minutes, grounded on dos_mas_rapidos.py's convert_travel_duration.
func parseISODuration(s string) int {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	return days*24*60 + hours*60 + minutes
}

// TwoFastest keeps the two lowest-travelDuration flights per
// (startingAirport, destinationAirport) route seen for one client,
// grounded on processors/dos_mas_rapidos/dos_mas_rapidos.py.
type TwoFastest struct {
	byRoute map[string][]map[string]string
}

// NewTwoFastest satisfies stage.Factory.
func NewTwoFastest(uint64) stage.Processor {
	return &TwoFastest{byRoute: make(map[string][]map[string]string)}
}

func routeKey(fields map[string]string) string {
	return fields["startingAirport"] + "-" + fields["destinationAirport"]
}

func (p *TwoFastest) Process(fields map[string]string) stage.Response {
	key := routeKey(fields)
	fastest, ok := p.byRoute[key]
	if !ok {
		p.byRoute[key] = []map[string]string{fields}
		return stage.NoOutput()
	}

	duration := parseISODuration(fields["travelDuration"])
	if len(fastest) < 2 {
		fastest = append(fastest, fields)
	} else if duration < parseISODuration(fastest[1]["travelDuration"]) {
		fastest[1] = fields
	}
	sort.Slice(fastest, func(i, j int) bool {
		return parseISODuration(fastest[i]["travelDuration"]) < parseISODuration(fastest[j]["travelDuration"])
	})
	p.byRoute[key] = fastest
	return stage.NoOutput()
}

// FinishProcessing flushes every route's surviving fastest flights, in
// original_source's "for trajectory, for message" nested-iteration order.
func (p *TwoFastest) FinishProcessing() stage.Response {
	var out []map[string]string
	for _, fastest := range p.byRoute {
		out = append(out, fastest...)
	}
	return stage.Many(out)
}
