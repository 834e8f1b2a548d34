package imagecompare

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/nfnt/resize"
)

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// normalize re-encodes arbitrary image bytes into a canonical form: RGB,
// scaled to normalizedSize x normalizedSize, JPEG quality 95. Two uploads of
// the same pixels in different containers normalize to identical bytes.
func normalize(data []byte) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	// Flatten to RGBA before scaling so the decoder's pixel representation
	// (NRGBA from png, RGBA from bmp, YCbCr from jpeg) cannot influence the
	// resampled bytes.
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)

	scaled := resize.Resize(normalizedSize, normalizedSize, rgba, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// averageHash computes the classic 64-bit aHash: grayscale, shrink to 8x8,
// set a bit for every pixel brighter than the mean.
func averageHash(data []byte) (uint64, error) {
	img, err := decode(data)
	if err != nil {
		return 0, err
	}

	scaled := resize.Resize(8, 8, img, resize.Lanczos3)
	var luma [hashBits]float64
	var sum float64
	bounds := scaled.Bounds()
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray := color.GrayModel.Convert(scaled.At(x, y)).(color.Gray)
			luma[i] = float64(gray.Y)
			sum += luma[i]
			i++
		}
	}

	mean := sum / hashBits
	var hash uint64
	for bit, value := range luma {
		if value > mean {
			hash |= 1 << uint(bit)
		}
	}
	return hash, nil
}

// flattenPixels scales the image to contentSize x contentSize and returns the
// R, G, B channel values as one flat vector.
func flattenPixels(data []byte) ([]float64, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}

	scaled := resize.Resize(contentSize, contentSize, img, resize.Lanczos3)
	bounds := scaled.Bounds()
	flat := make([]float64, 0, contentSize*contentSize*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := scaled.At(x, y).RGBA()
			flat = append(flat, float64(r>>8), float64(g>>8), float64(b>>8))
		}
	}
	return flat, nil
}

// pearson returns the correlation coefficient of two equal-length vectors.
// Degenerate inputs (zero variance, length mismatch) map to 0, matching how
// NaN correlations are reported.
func pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	n := float64(len(x))
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= n
	meanY /= n

	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}

	r := cov / math.Sqrt(varX*varY)
	if math.IsNaN(r) {
		return 0
	}
	return r
}
