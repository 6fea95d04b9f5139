package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/apex/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Swapped in tests, which run without the onnxruntime shared library.
var (
	environmentReady      = func() bool { return ort.IsInitialized() }
	initializeEnvironment = func() error { return ort.InitializeEnvironment() }
	destroyEnvironment    = func() error { return ort.DestroyEnvironment() }
)

// Server owns one ONNX Runtime session. PredictImage is safe for
// concurrent use: each call allocates its own tensors.
type Server struct {
	session     *ort.DynamicAdvancedSession
	Metadata    Metadata
	inputShape  ort.Shape
	outputShape ort.Shape
	numClasses  int
}

// NewServer initialises onnxruntime and loads the model described by opts.
// numClasses is the expected size of the output layer.
func NewServer(opts Options, numClasses int) (srv *Server, err error) {
	metadata, err := readMetadata(opts.MetadataPath)
	if err != nil {
		return nil, loadErr(KindMetadata, opts.MetadataPath, err)
	}
	if err := metadata.validate(numClasses); err != nil {
		return nil, loadErr(KindMetadata, opts.MetadataPath, err)
	}
	if err := checkProvider(metadata, opts.UseCUDA); err != nil {
		return nil, loadErr(KindGPUOnly, opts.ModelPath, err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if !environmentReady() {
		if err := initializeEnvironment(); err != nil {
			return nil, loadErr(KindEnvironment, opts.LibraryPath, fmt.Errorf("failed to initialize ONNX environment: %w", err))
		}
		// Registered before the session options defer so it runs last.
		defer func() {
			if err != nil {
				destroyEnvironment()
			}
		}()
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, loadErr(KindSession, opts.ModelPath, fmt.Errorf("failed to create session options: %w", err))
	}
	defer sessionOpts.Destroy()

	if opts.UseCUDA {
		if err := appendCUDA(sessionOpts); err != nil {
			return nil, loadErr(KindGPUOnly, opts.ModelPath, err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		sessionOpts)
	if err != nil {
		return nil, loadErr(KindSession, opts.ModelPath, fmt.Errorf("failed to create ONNX session: %w", err))
	}

	log.WithFields(log.Fields{
		"model":    opts.ModelPath,
		"input":    metadata.InputShape,
		"output":   metadata.OutputShape,
		"provider": metadata.ExecutionProvider,
	}).Info("model loaded")

	return &Server{
		session:     session,
		Metadata:    metadata,
		inputShape:  fixedShape(metadata.InputShape),
		outputShape: fixedShape(metadata.OutputShape),
		numClasses:  numClasses,
	}, nil
}

func appendCUDA(sessionOpts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("CUDA provider unavailable: %w", err)
	}
	defer cudaOpts.Destroy()

	if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to enable CUDA provider: %w", err)
	}
	return nil
}

// PredictImage runs one image through the model and returns the index of
// the highest scoring class.
func (s *Server) PredictImage(img image.Image) (int, error) {
	inputData, err := Preprocess(img, s.Metadata.ImageSize, s.Metadata.Mean, s.Metadata.Std)
	if err != nil {
		return 0, fmt.Errorf("preprocess: %w", err)
	}
	return s.Predict(inputData)
}

// Predict runs an already preprocessed input tensor.
func (s *Server) Predict(inputData []float32) (int, error) {
	if want := s.inputShape.FlattenedSize(); int64(len(inputData)) != want {
		return 0, &InputSizeError{Want: want, Got: len(inputData)}
	}

	inputTensor, err := ort.NewTensor(s.inputShape, inputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	err = s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor})
	if err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	scores := outputTensor.GetData()
	if len(scores) > s.numClasses {
		scores = scores[:s.numClasses]
	}
	return argmax(scores), nil
}

// Close releases the session and the onnxruntime environment.
func (s *Server) Close() {
	if s.session != nil {
		s.session.Destroy()
	}
	destroyEnvironment()
}

func readMetadata(path string) (Metadata, error) {
	var metadata Metadata
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata.InputName == "" {
		metadata.InputName = "input"
	}
	if metadata.OutputName == "" {
		metadata.OutputName = "output"
	}
	if metadata.ExecutionProvider == "" {
		metadata.ExecutionProvider = ProviderCPU
	}
	return metadata, nil
}

func (m Metadata) validate(numClasses int) error {
	if m.ImageSize <= 0 {
		return fmt.Errorf("image_size %d must be positive", m.ImageSize)
	}
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape %v is not NCHW", m.InputShape)
	}
	in := fixedShape(m.InputShape)
	if in[1] != 3 || in[2] != int64(m.ImageSize) || in[3] != int64(m.ImageSize) {
		return fmt.Errorf("input_shape %v does not match 3x%dx%d", m.InputShape, m.ImageSize, m.ImageSize)
	}
	if len(m.OutputShape) == 0 {
		return errors.New("output_shape is empty")
	}
	if got := m.OutputShape[len(m.OutputShape)-1]; got != int64(numClasses) {
		return fmt.Errorf("model has %d classes, label table has %d", got, numClasses)
	}
	if (len(m.Mean) != 0 || len(m.Std) != 0) && (len(m.Mean) != 3 || len(m.Std) != 3) {
		return errors.New("mean and std must both have 3 values")
	}
	switch m.ExecutionProvider {
	case ProviderCPU, ProviderCUDA:
	default:
		return fmt.Errorf("unknown execution_provider %q", m.ExecutionProvider)
	}
	return nil
}

func checkProvider(m Metadata, useCUDA bool) error {
	if m.ExecutionProvider == ProviderCUDA && !useCUDA {
		return fmt.Errorf("artifact targets %s, service runs CPU-only: %w", ProviderCUDA, ErrGPUOnly)
	}
	return nil
}

// fixedShape pins dynamic (-1) dims to 1; the service predicts one image
// at a time.
func fixedShape(dims []int64) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return ort.NewShape(out...)
}
