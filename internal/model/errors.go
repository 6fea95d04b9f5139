package model

import (
	"errors"
	"fmt"
)

// Kind classifies a model load failure.
type Kind int

const (
	KindEnvironment Kind = iota
	KindMetadata
	KindGPUOnly
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindEnvironment:
		return "environment"
	case KindMetadata:
		return "metadata"
	case KindGPUOnly:
		return "gpu_only"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// ErrGPUOnly matches any LoadError of KindGPUOnly through errors.Is.
var ErrGPUOnly = errors.New("model requires a GPU execution provider")

const gpuOnlyExplanation = `

This model was exported for a GPU-only execution path and will not run in a CPU environment.

Either start the service with use_cuda = true on a machine with CUDA and the GPU build of onnxruntime,
or re-export the model from your training environment with the CPU execution provider.`

// LoadError is returned by NewServer.
type LoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Kind == KindGPUOnly {
		return fmt.Sprintf("load %s: %v%s", e.Path, e.Err, gpuOnlyExplanation)
	}
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrGPUOnly && e.Kind == KindGPUOnly
}

func loadErr(kind Kind, path string, err error) *LoadError {
	return &LoadError{Kind: kind, Path: path, Err: err}
}

// ErrInputShape matches any InputSizeError through errors.Is.
var ErrInputShape = errors.New("input does not match model input shape")

// InputSizeError is returned by Predict for a tensor of the wrong length.
type InputSizeError struct {
	Want int64
	Got  int
}

func (e *InputSizeError) Error() string {
	return fmt.Sprintf("expected %d values, got %d", e.Want, e.Got)
}

func (e *InputSizeError) Is(target error) bool {
	return target == ErrInputShape
}
