package meter

import (
	"strconv"
)

// Scale returns raw * 10^scaler.
//
// The result is the float64 nearest to the exact decimal value: the
// conversion goes through strconv.ParseFloat on "<raw>e<scaler>", which
// rounds correctly, so results are identical across runs and platforms and
// never accumulate error. Exactly representable results such as 500 or
// 0.5 compare equal with ==; all others are within half an ulp of the
// decimal value.
func Scale(raw int64, scaler *int8) float64 {
	if scaler == nil || *scaler == 0 {
		return float64(raw)
	}
	lit := strconv.FormatInt(raw, 10) + "e" + strconv.Itoa(int(*scaler))
	// Out-of-range exponents saturate to ±Inf or 0, which is what we want.
	v, _ := strconv.ParseFloat(lit, 64)
	return v
}
