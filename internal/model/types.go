package model

// Metadata describes the exported model. It ships next to the .onnx file.
type Metadata struct {
	InputName         string    `json:"input_name"`
	OutputName        string    `json:"output_name"`
	InputShape        []int64   `json:"input_shape"`
	OutputShape       []int64   `json:"output_shape"`
	ImageSize         int       `json:"image_size"`
	Mean              []float32 `json:"mean"`
	Std               []float32 `json:"std"`
	ExecutionProvider string    `json:"execution_provider"`
}

// Options configures NewServer.
type Options struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	UseCUDA     bool
}

const (
	ProviderCPU  = "cpu"
	ProviderCUDA = "cuda"
)
