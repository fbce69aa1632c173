package protocol

// Point is a canvas coordinate in CSS pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathPayload carries begin-path, draw and end-path events. begin-path sets
// the style and Point; draw carries one segment From..To; end-path carries
// only the StrokeID.
type PathPayload struct {
	StrokeID string  `json:"strokeId"`
	Color    string  `json:"color,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Point    *Point  `json:"point,omitempty"`
	From     *Point  `json:"from,omitempty"`
	To       *Point  `json:"to,omitempty"`
}

// ShapeKind names a placeable shape
type ShapeKind string

const (
	ShapeRect    ShapeKind = "rect"
	ShapeEllipse ShapeKind = "ellipse"
	ShapeLine    ShapeKind = "line"
)

// ShapePayload carries a complete shape placement. For lines the segment
// runs from (X,Y) to (X+W,Y+H).
type ShapePayload struct {
	StrokeID string    `json:"strokeId"`
	Kind     ShapeKind `json:"kind"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	W        float64   `json:"w"`
	H        float64   `json:"h"`
	Color    string    `json:"color,omitempty"`
	Width    float64   `json:"width,omitempty"`
	Fill     bool      `json:"fill,omitempty"`
}

// CursorPayload carries a pointer position
type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
