package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errInvalidShape = errors.New("invalid shape")

// shape is a GeoJSON-like geometry as it appears in geo_shape queries.
type shape struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type position []float64

// coordinates validates the shape and returns its coordinates nested four
// levels deep, the form bleve's geoshape queries take.
func (s shape) coordinates() (string, [][][][]float64, error) {
	typ := strings.ToLower(s.Type)
	if len(s.Coordinates) == 0 {
		return "", nil, fmt.Errorf("%w: %s without coordinates", errInvalidShape, typ)
	}

	switch typ {
	case "point":
		var p position
		if err := json.Unmarshal(s.Coordinates, &p); err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidShape, err)
		}
		if err := p.validate(); err != nil {
			return "", nil, err
		}
		return typ, [][][][]float64{{{p}}}, nil

	case "linestring", "multipoint", "envelope":
		var line []position
		if err := json.Unmarshal(s.Coordinates, &line); err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidShape, err)
		}
		least := 2
		if typ == "multipoint" {
			least = 1
		}
		if err := validateLine(line, least); err != nil {
			return "", nil, err
		}
		if typ == "envelope" && len(line) != 2 {
			return "", nil, fmt.Errorf("%w: envelope needs exactly 2 positions", errInvalidShape)
		}
		return typ, [][][][]float64{{positions(line)}}, nil

	case "polygon", "multilinestring":
		var rings [][]position
		if err := json.Unmarshal(s.Coordinates, &rings); err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidShape, err)
		}
		if err := validateRings(typ, rings); err != nil {
			return "", nil, err
		}
		return typ, [][][][]float64{lines(rings)}, nil

	case "multipolygon":
		var polygons [][][]position
		if err := json.Unmarshal(s.Coordinates, &polygons); err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidShape, err)
		}
		if len(polygons) == 0 {
			return "", nil, fmt.Errorf("%w: multipolygon without polygons", errInvalidShape)
		}
		out := make([][][][]float64, len(polygons))
		for i, rings := range polygons {
			if err := validateRings("polygon", rings); err != nil {
				return "", nil, err
			}
			out[i] = lines(rings)
		}
		return typ, out, nil

	default:
		return "", nil, fmt.Errorf("%w: unsupported type %q", errInvalidShape, s.Type)
	}
}

func (p position) validate() error {
	if len(p) < 2 {
		return fmt.Errorf("%w: position needs longitude and latitude", errInvalidShape)
	}
	if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
		return fmt.Errorf("%w: position [%g, %g] out of range", errInvalidShape, p[0], p[1])
	}
	return nil
}

func (p position) equal(o position) bool {
	return len(p) >= 2 && len(o) >= 2 && p[0] == o[0] && p[1] == o[1]
}

func validateLine(line []position, least int) error {
	if len(line) < least {
		return fmt.Errorf("%w: need at least %d positions, got %d", errInvalidShape, least, len(line))
	}
	for _, p := range line {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateRings checks polygon rings are closed and have at least four
// positions. Line strings only need two.
func validateRings(typ string, rings [][]position) error {
	if len(rings) == 0 {
		return fmt.Errorf("%w: %s without rings", errInvalidShape, typ)
	}
	for i, ring := range rings {
		if typ != "polygon" {
			if err := validateLine(ring, 2); err != nil {
				return err
			}
			continue
		}
		if err := validateLine(ring, 4); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
		if !ring[0].equal(ring[len(ring)-1]) {
			return fmt.Errorf("%w: ring %d is not closed", errInvalidShape, i)
		}
	}
	return nil
}

func positions(line []position) [][]float64 {
	out := make([][]float64, len(line))
	for i, p := range line {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

func lines(rings [][]position) [][][]float64 {
	out := make([][][]float64, len(rings))
	for i, r := range rings {
		out[i] = positions(r)
	}
	return out
}
