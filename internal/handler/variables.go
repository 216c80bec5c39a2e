package handler

import (
	"encoding/json"
	"fmt"
	"math"
)

// FixNumberVariables goes through the structure created by the JSON decoder, converting any json.Number values to
// either an int or a float64, the types graphql-go accepts for Int and Float. This assumes that all the JSON numbers
// were decoded into a json.Number type, rather than float64, by use of the json.Decoder.UseNumber() method.
func FixNumberVariables(m map[string]interface{}) error {
	for key, val := range m {
		v, err := fixNumber(val)
		if err != nil {
			return fmt.Errorf("variable %q: %w", key, err)
		}
		m[key] = v
	}
	return nil
}

func fixNumber(val interface{}) (interface{}, error) {
	switch v := val.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number %s", v)
		}
		return f, nil

	case map[string]interface{}:
		return v, FixNumberVariables(v) // recursively handle nested numbers

	case []interface{}:
		for i := range v {
			elt, err := fixNumber(v[i])
			if err != nil {
				return nil, err
			}
			v[i] = elt
		}
		return v, nil
	}
	return val, nil
}
