package collection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceDot       Distance = "Dot"
	DistanceCosine    Distance = "Cosine"
	DistanceEuclid    Distance = "Euclid"
	DistanceManhattan Distance = "Manhattan"
)

// Distances lists every supported metric.
var Distances = []Distance{DistanceDot, DistanceCosine, DistanceEuclid, DistanceManhattan}

// ParseDistance accepts the wire names case-insensitively, plus "euclidean".
func ParseDistance(s string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dot":
		return DistanceDot, nil
	case "cosine":
		return DistanceCosine, nil
	case "euclid", "euclidean":
		return DistanceEuclid, nil
	case "manhattan":
		return DistanceManhattan, nil
	}
	return "", fmt.Errorf("unknown distance %q", s)
}

// VectorConfig is fixed at collection creation.
type VectorConfig struct {
	Size     int      `json:"size"`
	Distance Distance `json:"distance"`
}

// Validate checks the size and metric.
func (v VectorConfig) Validate() error {
	if v.Size <= 0 {
		return fmt.Errorf("vector size must be positive, got %d", v.Size)
	}
	for _, d := range Distances {
		if v.Distance == d {
			return nil
		}
	}
	return fmt.Errorf("unknown distance %q", v.Distance)
}

// PointID is either an unsigned integer or a string identifier.
type PointID struct {
	num    uint64
	str    string
	isText bool
}

// NumID returns an integer point id.
func NumID(n uint64) PointID { return PointID{num: n} }

// StringID returns a string (UUID) point id.
func StringID(s string) PointID { return PointID{str: s, isText: true} }

func (id PointID) String() string {
	if id.isText {
		return id.str
	}
	return strconv.FormatUint(id.num, 10)
}

func (id PointID) MarshalJSON() ([]byte, error) {
	if id.isText {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatUint(id.num, 10)), nil
}

func (id *PointID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("point id: %w", err)
	}
	*id = NumID(n)
	return nil
}

// Point is one vector with its id and payload.
type Point struct {
	ID      PointID        `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Ack is the service's acknowledgment of an upsert.
type Ack struct {
	Count       int    `json:"-"`
	OperationID uint64 `json:"operation_id"`
	Status      string `json:"status"`
}

// Info is the subset of collection metadata snapcheck reads.
type Info struct {
	Status       string `json:"status"`
	PointsCount  uint64 `json:"points_count"`
	VectorsCount uint64 `json:"vectors_count"`
}
