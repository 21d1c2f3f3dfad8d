package main

import (
	"encoding/json"
	"fmt"

	"github.com/Aaronyf/beam/service/events"
	"github.com/itchyny/gojq"
)

// compileFilters parses and compiles jq expressions.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// envelopeValue converts an envelope into the generic value jq filters run
// against: {"kind", "emitted_at", "payload"}.
func envelopeValue(env events.Envelope) (any, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// matchAll reports whether every filter yields a truthy first result for v.
func matchAll(codes []*gojq.Code, v any) bool {
	for _, code := range codes {
		iter := code.Run(v)
		out, ok := iter.Next()
		if !ok {
			// No result means filter failed
			return false
		}
		if _, isErr := out.(error); isErr {
			return false
		}
		if !isTruthy(out) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
