package types

// Detection is one recognized object in model-input pixel space.
// Built fresh each cycle and immutable afterwards.
type Detection struct {
	X1         float64 `json:"x1"` // top-left
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"` // bottom-right
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	Class      int     `json:"class"`
	Label      string  `json:"label,omitempty"`
}

// Width returns the box width in pixels.
func (d Detection) Width() float64 { return d.X2 - d.X1 }

// Height returns the box height in pixels.
func (d Detection) Height() float64 { return d.Y2 - d.Y1 }

// Clamp limits the box to the [0,w]×[0,h] area.
func (d Detection) Clamp(w, h float64) Detection {
	d.X1 = clamp(d.X1, 0, w)
	d.Y1 = clamp(d.Y1, 0, h)
	d.X2 = clamp(d.X2, 0, w)
	d.Y2 = clamp(d.Y2, 0, h)
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
