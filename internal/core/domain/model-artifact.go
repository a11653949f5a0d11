package domain

import (
	"detection-quant-bench/internal/engine"
)

// Quantization configurations, in pipeline order.
const (
	ConfigFloat32 = "float32"
	ConfigFloat16 = "float16"
	ConfigInt8    = "int8"
)

// QuantParams maps a stored uint8 value q to the real value (q - ZeroPoint) * Scale.
type QuantParams struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int32   `json:"zero_point"`
}

type OutputSpec struct {
	Name  string       `json:"name"`
	Shape []int        `json:"shape"`
	DType engine.DType `json:"dtype"`
}

// ModelArtifact is one converted model on disk. It is immutable once
// created; Reused reports a cache hit.
type ModelArtifact struct {
	Config      string       `json:"config"`
	Path        string       `json:"path"`
	SizeBytes   int64        `json:"size_bytes"`
	InputName   string       `json:"input_name"`
	InputShape  []int        `json:"input_shape"`
	InputDType  engine.DType `json:"input_dtype"`
	InputQuant  *QuantParams `json:"input_quant,omitempty"`
	OutputDType engine.DType `json:"output_dtype"`
	Outputs     []OutputSpec `json:"outputs"`
	Reused      bool         `json:"reused"`
}

// SizeMB is the artifact size in binary megabytes.
func (a *ModelArtifact) SizeMB() float64 {
	return float64(a.SizeBytes) / (1 << 20)
}

// InputHW returns the declared input height and width.
func (a *ModelArtifact) InputHW() (int, int) {
	if len(a.InputShape) != 4 {
		return 0, 0
	}
	return a.InputShape[1], a.InputShape[2]
}
