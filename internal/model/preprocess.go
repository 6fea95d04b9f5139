package model

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Preprocess converts an image to the CHW float32 layout the model expects:
// resized to size x size, RGB scaled to [0,1], then normalised per channel.
// Empty mean/std skip normalisation.
func Preprocess(img image.Image, size int, mean, std []float32) ([]float32, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty image")
	}
	normalise := len(mean) == 3 && len(std) == 3
	if normalise {
		for _, s := range std {
			if s == 0 {
				return nil, fmt.Errorf("zero std in metadata")
			}
		}
	}

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	const channels = 3
	inputData := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			px := [channels]float32{
				float32(r) / 65535.0,
				float32(g) / 65535.0,
				float32(b) / 65535.0,
			}
			pixelIndex := y*width + x
			for c := 0; c < channels; c++ {
				v := px[c]
				if normalise {
					v = (v - mean[c]) / std[c]
				}
				inputData[c*plane+pixelIndex] = v
			}
		}
	}

	return inputData, nil
}

func argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := values[0]
	for i, val := range values[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx
}
