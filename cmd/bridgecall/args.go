package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"mini-bridge/value"
)

// parseArgs reads command arguments given as JSON. Integral numbers become
// Int values so typed integer parameters on the host accept them.
func parseArgs(text string) (value.Value, error) {
	if strings.TrimSpace(text) == "" {
		return value.Null(), nil
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return value.Null(), fmt.Errorf("args: %w", err)
	}
	if dec.More() {
		return value.Null(), fmt.Errorf("args: trailing data after JSON value")
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (value.Value, error) {
	switch x := raw.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return value.Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return value.Null(), fmt.Errorf("args: %w", err)
		}
		return value.Float(f), nil
	case []any:
		items := make([]value.Value, len(x))
		for i, item := range x {
			v, err := fromJSON(item)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.Sequence(items...), nil
	case map[string]any:
		entries := make(map[string]value.Value, len(x))
		for k, item := range x {
			v, err := fromJSON(item)
			if err != nil {
				return value.Null(), err
			}
			entries[k] = v
		}
		return value.Mapping(entries), nil
	}
	return value.FromAny(raw)
}
