package model

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMetadata() Metadata {
	return Metadata{
		InputName:         "input",
		OutputName:        "output",
		InputShape:        []int64{1, 3, 8, 8},
		OutputShape:       []int64{1, 42},
		ImageSize:         8,
		Mean:              []float32{0.485, 0.456, 0.406},
		Std:               []float32{0.229, 0.224, 0.225},
		ExecutionProvider: ProviderCPU,
	}
}

func TestMetadataValidate(t *testing.T) {
	require.NoError(t, validMetadata().validate(42))

	dynamic := validMetadata()
	dynamic.InputShape = []int64{-1, 3, 8, 8}
	dynamic.OutputShape = []int64{-1, 42}
	require.NoError(t, dynamic.validate(42))

	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{"no image size", func(m *Metadata) { m.ImageSize = 0 }},
		{"not NCHW", func(m *Metadata) { m.InputShape = []int64{3, 8, 8} }},
		{"wrong spatial dims", func(m *Metadata) { m.ImageSize = 16 }},
		{"grayscale", func(m *Metadata) { m.InputShape = []int64{1, 1, 8, 8} }},
		{"no output", func(m *Metadata) { m.OutputShape = nil }},
		{"class count mismatch", func(m *Metadata) { m.OutputShape = []int64{1, 3} }},
		{"partial normalisation", func(m *Metadata) { m.Std = nil }},
		{"unknown provider", func(m *Metadata) { m.ExecutionProvider = "tpu" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMetadata()
			tt.mutate(&m)
			assert.Error(t, m.validate(42))
		})
	}
}

func TestReadMetadataDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"input_shape":[1,3,4,4],"output_shape":[1,42],"image_size":4}`), 0o644))

	m, err := readMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "input", m.InputName)
	assert.Equal(t, "output", m.OutputName)
	assert.Equal(t, ProviderCPU, m.ExecutionProvider)
}

func TestNewServerMetadataErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewServer(Options{ModelPath: "m.onnx", MetadataPath: filepath.Join(dir, "missing.json")}, 42)
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, KindMetadata, loadErr.Kind)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = NewServer(Options{ModelPath: "m.onnx", MetadataPath: bad}, 42)
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, KindMetadata, loadErr.Kind)
	assert.False(t, errors.Is(err, ErrGPUOnly))
}

func TestNewServerGPUOnlyArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"input_shape": [1, 3, 8, 8],
		"output_shape": [1, 42],
		"image_size": 8,
		"execution_provider": "cuda"
	}`), 0o644))

	_, err := NewServer(Options{ModelPath: "gpu.onnx", MetadataPath: path}, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGPUOnly)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, KindGPUOnly, loadErr.Kind)
	assert.Contains(t, err.Error(), "will not run in a CPU environment")
}

func TestLoadErrorIs(t *testing.T) {
	assert.True(t, errors.Is(loadErr(KindGPUOnly, "m", errors.New("x")), ErrGPUOnly))
	assert.False(t, errors.Is(loadErr(KindSession, "m", errors.New("x")), ErrGPUOnly))

	inner := errors.New("boom")
	assert.ErrorIs(t, loadErr(KindSession, "m", inner), inner)
	assert.Equal(t, "gpu_only", KindGPUOnly.String())
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, -1, argmax(nil))
	assert.Equal(t, 0, argmax([]float32{1}))
	assert.Equal(t, 2, argmax([]float32{0.1, 0.2, 0.9, 0.3}))
	assert.Equal(t, 0, argmax([]float32{-1, -2, -3}))
	// ties resolve to the first index
	assert.Equal(t, 1, argmax([]float32{0, 5, 5}))
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocessLayout(t *testing.T) {
	img := solid(20, 10, color.RGBA{R: 255, G: 0, B: 255, A: 255})

	data, err := Preprocess(img, 4, nil, nil)
	require.NoError(t, err)
	require.Len(t, data, 3*4*4)

	plane := 16
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, data[i], 0.01, "red plane")
		assert.InDelta(t, 0.0, data[plane+i], 0.01, "green plane")
		assert.InDelta(t, 1.0, data[2*plane+i], 0.01, "blue plane")
	}
}

func TestPreprocessNormalises(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	data, err := Preprocess(img, 2, []float32{0.5, 0.5, 0.5}, []float32{0.5, 0.5, 0.5})
	require.NoError(t, err)
	for _, v := range data {
		assert.InDelta(t, 1.0, v, 0.01)
	}
}

func TestPreprocessRejects(t *testing.T) {
	_, err := Preprocess(solid(2, 2, color.Black), 0, nil, nil)
	assert.Error(t, err)

	_, err = Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 0)), 4, nil, nil)
	assert.Error(t, err)

	_, err = Preprocess(solid(2, 2, color.Black), 4, []float32{0, 0, 0}, []float32{1, 0, 1})
	assert.Error(t, err)
}

func TestPredictRejectsWrongLength(t *testing.T) {
	s := &Server{inputShape: fixedShape([]int64{1, 3, 8, 8}), numClasses: 42}

	_, err := s.Predict([]float32{0, 0, 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputShape)

	var sizeErr *InputSizeError
	require.True(t, errors.As(err, &sizeErr))
	assert.Equal(t, int64(192), sizeErr.Want)
	assert.Equal(t, 3, sizeErr.Got)
	assert.Equal(t, "expected 192 values, got 3", err.Error())
}

func TestNewServerReleasesEnvironmentOnSessionFailure(t *testing.T) {
	prevReady, prevInit, prevDestroy := environmentReady, initializeEnvironment, destroyEnvironment
	t.Cleanup(func() {
		environmentReady, initializeEnvironment, destroyEnvironment = prevReady, prevInit, prevDestroy
	})

	destroyed := 0
	environmentReady = func() bool { return false }
	initializeEnvironment = func() error { return nil }
	destroyEnvironment = func() error { destroyed++; return nil }

	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"input_shape":[1,3,8,8],"output_shape":[1,42],"image_size":8}`), 0o644))

	// The real runtime was never initialised, so session setup fails after
	// the (stubbed) environment came up.
	_, err := NewServer(Options{ModelPath: "missing.onnx", MetadataPath: path}, 42)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, KindSession, loadErr.Kind)
	assert.Equal(t, 1, destroyed)
}
