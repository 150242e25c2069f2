package qdrant

import (
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
)

func toQdrantPoint(p Point) *qdrant.PointStruct {
	payload := make(map[string]*qdrant.Value, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = qdrant.NewValueString(v)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: payload,
	}
}

func fromScoredPoint(p *qdrant.ScoredPoint) ScoredPoint {
	return ScoredPoint{
		Point: Point{
			ID:      pointID(p.GetId()),
			Vector:  denseVector(p.GetVectors()),
			Payload: payloadStrings(p.GetPayload()),
		},
		Score: p.GetScore(),
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	if n := id.GetNum(); n != 0 {
		return fmt.Sprintf("%d", n)
	}
	return ""
}

func denseVector(v *qdrant.VectorsOutput) []float32 {
	if v == nil {
		return nil
	}
	if vec := v.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

// payloadStrings flattens a payload to strings. Non-string scalars are
// formatted; nested values are dropped.
func payloadStrings(payload map[string]*qdrant.Value) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = fmt.Sprintf("%d", val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			out[k] = fmt.Sprintf("%g", val.DoubleValue)
		case *qdrant.Value_BoolValue:
			out[k] = fmt.Sprintf("%t", val.BoolValue)
		}
	}
	return out
}

func toQdrantFilter(f *Filter) *qdrant.Filter {
	if f == nil || (len(f.Must) == 0 && len(f.Should) == 0) {
		return nil
	}
	return &qdrant.Filter{
		Must:   keywordConditions(f.Must),
		Should: keywordConditions(f.Should),
	}
}

// keywordConditions builds match conditions in key order.
func keywordConditions(m map[string]string) []*qdrant.Condition {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*qdrant.Condition, len(keys))
	for i, k := range keys {
		out[i] = qdrant.NewMatchKeyword(k, m[k])
	}
	return out
}
