package stage

import "strings"

// ParseFields splits a comma-separated ProtocolMessage payload into the
// named fields a Processor expects, in the positional order the stage was
// configured with (spec §4.4 "parse_input_fields(m.payload, input_fields)").
// A payload with fewer columns than fields leaves the trailing names
// unset rather than erroring — processors that don't read a column never
// notice.
func ParseFields(payload string, fields []string) map[string]string {
	cols := strings.Split(payload, ",")
	out := make(map[string]string, len(fields))
	for i, name := range fields {
		if i < len(cols) {
			out[name] = cols[i]
		}
	}
	return out
}

// EncodeFields serializes a Processor's output record back into the
// comma-separated wire form, in the stage's configured output column
// order. Missing fields serialize as empty columns so the positional
// layout downstream expects is preserved.
func EncodeFields(values map[string]string, fields []string) string {
	cols := make([]string, len(fields))
	for i, name := range fields {
		cols[i] = values[name]
	}
	return strings.Join(cols, ",")
}
