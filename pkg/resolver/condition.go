package resolver

import (
	"encoding/json"
	"reflect"

	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/spf13/cast"
)

// Matches reports whether every entry of cond is present in ctx with an
// equal value. A nil or empty condition always matches.
func Matches(cond, ctx domain.Values) bool {
	for k, want := range cond {
		got, ok := ctx[k]
		if !ok {
			return false
		}
		if !ValuesEqual(want, got) {
			return false
		}
	}
	return true
}

// ValuesEqual is exact equality with numeric normalization: 1, int64(1),
// 1.0 and json.Number("1") are equal, "1" is not.
func ValuesEqual(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, errA := cast.ToFloat64E(a)
		fb, errB := cast.ToFloat64E(b)
		return errA == nil && errB == nil && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	}
	return false
}
