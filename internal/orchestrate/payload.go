package orchestrate

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errNoPayload = errors.New("no result payload in output")

// ParsePayload reads the result a unit printed on stdout. The last non-empty
// line is tried first. If it is not a payload, the output is scanned for the
// last top-level JSON object that carries source_id. Both paths accept the
// same objects.
func ParsePayload(stdout []byte) (Result, error) {
	if line := lastLine(stdout); len(line) > 0 {
		if res, ok := decode(line, "source_id"); ok {
			return res, nil
		}
	}
	objs := topLevelObjects(stdout)
	for i := len(objs) - 1; i >= 0; i-- {
		if res, ok := decode(objs[i], "source_id"); ok {
			return res, nil
		}
	}
	return Result{}, errNoPayload
}

func lastLine(b []byte) []byte {
	b = bytes.TrimRight(b, " \t\r\n")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return bytes.TrimSpace(b)
}

func decode(b []byte, required ...string) (Result, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return Result{}, false
	}
	for _, k := range required {
		if _, ok := keys[k]; !ok {
			return Result{}, false
		}
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

// topLevelObjects returns every JSON object in b that is not nested in
// another one. Each '{' is a candidate start; a candidate that does not
// decode is skipped, so stray braces in free text never hide a later object.
func topLevelObjects(b []byte) [][]byte {
	var out [][]byte
	for i := 0; i < len(b); {
		j := bytes.IndexByte(b[i:], '{')
		if j < 0 {
			break
		}
		start := i + j
		dec := json.NewDecoder(bytes.NewReader(b[start:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			i = start + 1
			continue
		}
		end := start + int(dec.InputOffset())
		out = append(out, b[start:end])
		i = end
	}
	return out
}
