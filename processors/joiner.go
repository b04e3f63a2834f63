package processors

import (
	"sync"

	"flights-pipeline/stage"
)

// AirportCoord is one airport's latitude/longitude, carried as strings
// since the pipeline's wire format is all-string fields (spec.md §3).
type AirportCoord struct {
	Latitude  string
	Longitude string
}

// joinState is the lat/long table shared between a LatLong processor and
// a Joiner processor for the same client_id. The original Python runs
// LatLong and Joiner as two threads over one mutable State object; spec.md
// §9 replaces that with "an explicit, synchronized map with two
// operations... locks held only for the duration of one access."
type joinState struct {
	mu     sync.Mutex
	coords map[string]AirportCoord
}

func newJoinState() *joinState {
	return &joinState{coords: make(map[string]AirportCoord)}
}

func (s *joinState) upsert(code string, c AirportCoord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coords[code] = c
}

func (s *joinState) lookup(code string) (AirportCoord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coords[code]
	return c, ok
}

// JoinStates hands out one joinState per client_id, since stage.Factory
// only ever sees a client_id and the LatLong/Joiner processors for that
// client_id must share the same table (grounded on
// original_source/processors/joiner/main.py's single `State` instance
// passed into both LatLongConfig and JoinerConfig).
type JoinStates struct {
	mu       sync.Mutex
	byClient map[uint64]*joinState
}

// NewJoinStates builds an empty registry.
func NewJoinStates() *JoinStates {
	return &JoinStates{byClient: make(map[uint64]*joinState)}
}

func (s *JoinStates) get(clientID uint64) *joinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byClient[clientID]
	if !ok {
		st = newJoinState()
		s.byClient[clientID] = st
	}
	return st
}

// LatLong ingests the airports dataset, populating the shared join table;
// it never emits output (original_source's LatLong connection runs with
// send_eof=False since airports is the smaller, finite side-input).
type LatLong struct {
	state *joinState
}

// LatLongFactory builds a stage.Factory sharing states with a Joiner
// stage built from the same JoinStates.
func (s *JoinStates) LatLongFactory() stage.Factory {
	return func(clientID uint64) stage.Processor {
		return &LatLong{state: s.get(clientID)}
	}
}

func (p *LatLong) Process(fields map[string]string) stage.Response {
	p.state.upsert(fields["AirportCode"], AirportCoord{
		Latitude:  fields["Latitude"],
		Longitude: fields["Longitude"],
	})
	return stage.NoOutput()
}

func (p *LatLong) FinishProcessing() stage.Response { return stage.NoOutput() }

// Joiner enriches each flight record with its starting/destination
// airport coordinates, grounded on processors/joiner/main.py's
// vuelos_output_fields. A route whose airport hasn't arrived yet through
// LatLong is dropped rather than buffered — original_source relies on
// LatLong's thread completing first; here cmd/joiner runs the LatLong and
// Joiner loops concurrently in one process and does not order them, so a
// flight that arrives before its airports is dropped.
type Joiner struct {
	state *joinState
}

// JoinerFactory builds a stage.Factory sharing states with a LatLong
// stage built from the same JoinStates.
func (s *JoinStates) JoinerFactory() stage.Factory {
	return func(clientID uint64) stage.Processor {
		return &Joiner{state: s.get(clientID)}
	}
}

func (p *Joiner) Process(fields map[string]string) stage.Response {
	start, ok := p.state.lookup(fields["startingAirport"])
	if !ok {
		return stage.NoOutput()
	}
	dest, ok := p.state.lookup(fields["destinationAirport"])
	if !ok {
		return stage.NoOutput()
	}
	out := map[string]string{
		"legId":               fields["legId"],
		"startingAirport":     fields["startingAirport"],
		"destinationAirport":  fields["destinationAirport"],
		"totalTravelDistance": fields["totalTravelDistance"],
		"startingLatitude":    start.Latitude,
		"startingLongitude":   start.Longitude,
		"destinationLatitude": dest.Latitude,
		"destinationLongitude": dest.Longitude,
	}
	return stage.One(out)
}

func (p *Joiner) FinishProcessing() stage.Response { return stage.NoOutput() }
