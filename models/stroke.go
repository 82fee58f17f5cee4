package models

// StrokePoint is a normalized canvas coordinate with a client timestamp and an
// optional stylus pressure reading.
type StrokePoint struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
	T        int64    `json:"t"`
}

// Stroke is a single drawing command. Strokes are immutable once received.
type Stroke struct {
	ID     string        `json:"id"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
	Points []StrokePoint `json:"points"`
}
