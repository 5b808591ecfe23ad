package remote

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/jobshop-planner/internal/cpmodel"
	"github.com/signalsfoundry/jobshop-planner/internal/solver"
)

// solveRequest is the JSON shape carried inside the request Struct.
type solveRequest struct {
	Model  *cpmodel.Model `json:"model"`
	Params solver.Params  `json:"params"`
}

// toStruct converts any JSON-marshalable value into a protobuf Struct.
// Integers survive the float64 round trip for magnitudes below 2^53, which
// covers every minute count and duration the planner produces.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a protobuf Struct into v via its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty payload")
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
