package performance

import (
	"math"
	"strconv"
)

type RatioKind int

const (
	Undefined RatioKind = iota
	Defined
	Infinite
)

// Ratio is a statistic that may have no finite value. It marshals to a number, "∞" or "N/A".
type Ratio struct {
	Value float64
	Kind  RatioKind
}

func defined(v float64) Ratio {
	if math.IsNaN(v) {
		return Ratio{}
	}
	if math.IsInf(v, 0) {
		return Ratio{Kind: Infinite, Value: v}
	}
	return Ratio{Kind: Defined, Value: v}
}

func (r Ratio) String() string {
	switch r.Kind {
	case Defined:
		return strconv.FormatFloat(r.Value, 'f', 4, 64)
	case Infinite:
		if r.Value < 0 {
			return "-∞"
		}
		return "∞"
	default:
		return "N/A"
	}
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.Kind == Defined {
		return strconv.AppendFloat(nil, r.Value, 'f', -1, 64), nil
	}
	return []byte(strconv.Quote(r.String())), nil
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	s := string(b)
	if u, err := strconv.Unquote(s); err == nil {
		switch u {
		case "∞":
			*r = Ratio{Kind: Infinite, Value: math.Inf(1)}
		case "-∞":
			*r = Ratio{Kind: Infinite, Value: math.Inf(-1)}
		default:
			*r = Ratio{}
		}
		return nil
	}
	if s == "null" {
		*r = Ratio{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*r = Ratio{Kind: Defined, Value: v}
	return nil
}
