package model

import "strings"

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Sign is +1 for long and -1 for short exposure.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

type ExecutionMode string

const (
	ModeInstant    ExecutionMode = "instant"
	ModeRealistic  ExecutionMode = "realistic"
	ModeHistorical ExecutionMode = "historical"
)

func (m ExecutionMode) Valid() bool {
	switch m {
	case ModeInstant, ModeRealistic, ModeHistorical:
		return true
	default:
		return false
	}
}
