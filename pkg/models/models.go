package models

import "github.com/paulmach/orb"

// Direction is the direction of travel recorded with a waypoint
type Direction string

const (
	Upriver   Direction = "u"
	Downriver Direction = "d"
)

// Valid reports whether d is one of the recognised directions
func (d Direction) Valid() bool {
	return d == Upriver || d == Downriver
}

// Name returns the long form used in file names
func (d Direction) Name() string {
	switch d {
	case Upriver:
		return "upriver"
	case Downriver:
		return "downriver"
	}
	return string(d)
}

// Bank is the side of the river a waypoint was recorded on
type Bank string

const (
	Left  Bank = "L"
	Right Bank = "R"
)

// Valid reports whether b is one of the recognised banks
func (b Bank) Valid() bool {
	return b == Left || b == Right
}

// Name returns the long form used in file names
func (b Bank) Name() string {
	switch b {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return string(b)
}

// Permafrost is the categorical permafrost observation
type Permafrost string

const (
	PermafrostYes       Permafrost = "Y"
	PermafrostNo        Permafrost = "N"
	PermafrostUncertain Permafrost = "U"
)

// Valid reports whether p is one of the three normalised symbols
func (p Permafrost) Valid() bool {
	return p == PermafrostYes || p == PermafrostNo || p == PermafrostUncertain
}

// Observation is one field waypoint from the notes spreadsheet
type Observation struct {
	WP         string     `json:"wp"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Elev       float64    `json:"elev"`
	Timestamp  string     `json:"timestamp"`
	Name       string     `json:"name"`
	Direction  Direction  `json:"direction"`
	Bank       Bank       `json:"bank"`
	Permafrost Permafrost `json:"permafrost"`
	Notes      string     `json:"notes"`
}

// Point returns the observation position as lon/lat
func (o Observation) Point() orb.Point {
	return orb.Point{o.Lon, o.Lat}
}

// Partition is one (direction, bank) subset of the observations
type Partition struct {
	Direction Direction
	Bank      Bank
}

// Name returns "<direction>_<bank>", e.g. "upriver_left"
func (p Partition) Name() string {
	return p.Direction.Name() + "_" + p.Bank.Name()
}

// Partitions returns the four recognised partitions in processing order
func Partitions() []Partition {
	return []Partition{
		{Direction: Downriver, Bank: Left},
		{Direction: Downriver, Bank: Right},
		{Direction: Upriver, Bank: Left},
		{Direction: Upriver, Bank: Right},
	}
}
