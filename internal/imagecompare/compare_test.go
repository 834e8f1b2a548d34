package imagecompare

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func TestParseMethodDefaultsToHash(t *testing.T) {
	method, err := ParseMethod("")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if method != MethodHash {
		t.Fatalf("expected default method %q, got %q", MethodHash, method)
	}
}

func TestParseMethodRejectsUnknown(t *testing.T) {
	_, err := ParseMethod("ssim")
	if !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestHashMatchesIdenticalBytes(t *testing.T) {
	data := encodePNG(t, gradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodHash, data, data)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected identical bytes to match")
	}
	if result.HammingDistance != -1 {
		t.Fatalf("expected no hamming distance, got %d", result.HammingDistance)
	}
}

func TestHashRejectsDifferentBytes(t *testing.T) {
	stored := encodePNG(t, gradientImage(64, 64))
	candidate := encodePNG(t, invertedGradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodHash, stored, candidate)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Match {
		t.Fatal("expected different bytes not to match")
	}
}

func TestNormalizedHashMatchesAcrossLosslessFormats(t *testing.T) {
	img := gradientImage(64, 64)
	asPNG := encodePNG(t, img)

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode bmp: %v", err)
	}
	asBMP := buf.Bytes()

	// Raw hashes of the two containers differ, the normalized ones must not.
	raw, err := NewEngine().Compare(context.Background(), MethodHash, asPNG, asBMP)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if raw.Match {
		t.Fatal("expected png and bmp bytes to differ")
	}

	normalized, err := NewEngine().Compare(context.Background(), MethodNormalizedHash, asPNG, asBMP)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !normalized.Match {
		t.Fatal("expected normalized comparison to match across lossless formats")
	}
}

func TestPerceptualIdenticalImageIsPerfectMatch(t *testing.T) {
	data := encodePNG(t, gradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodPerceptual, data, data)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected identical image to match perceptually")
	}
	if result.HammingDistance != 0 {
		t.Fatalf("expected hamming distance 0, got %d", result.HammingDistance)
	}
	if result.Score != 1 {
		t.Fatalf("expected similarity 1, got %f", result.Score)
	}
}

func TestPerceptualRejectsInvertedImage(t *testing.T) {
	stored := encodePNG(t, gradientImage(64, 64))
	candidate := encodePNG(t, invertedGradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodPerceptual, stored, candidate)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Match {
		t.Fatalf("expected inverted image not to match, distance %d", result.HammingDistance)
	}
	if result.HammingDistance <= perceptualMaxDistance {
		t.Fatalf("expected large hamming distance, got %d", result.HammingDistance)
	}
}

func TestContentIdenticalImageScoresOne(t *testing.T) {
	data := encodePNG(t, gradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodContent, data, data)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected identical image to match by content")
	}
	if result.Score < contentThreshold {
		t.Fatalf("expected score >= %f, got %f", contentThreshold, result.Score)
	}
}

func TestContentInvertedImageDoesNotMatch(t *testing.T) {
	stored := encodePNG(t, gradientImage(64, 64))
	candidate := encodePNG(t, invertedGradientImage(64, 64))

	result, err := NewEngine().Compare(context.Background(), MethodContent, stored, candidate)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if result.Match {
		t.Fatalf("expected inverted image not to match, score %f", result.Score)
	}
}

func TestCompareSurfacesDecodeErrors(t *testing.T) {
	valid := encodePNG(t, gradientImage(16, 16))
	garbage := []byte("definitely not an image")

	for _, method := range []Method{MethodNormalizedHash, MethodPerceptual, MethodContent} {
		if _, err := NewEngine().Compare(context.Background(), method, valid, garbage); !errors.Is(err, ErrDecode) {
			t.Fatalf("method %s: expected ErrDecode, got %v", method, err)
		}
	}

	// The raw hash method never decodes, so garbage is still comparable.
	result, err := NewEngine().Compare(context.Background(), MethodHash, garbage, garbage)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !result.Match {
		t.Fatal("expected identical garbage bytes to match by raw hash")
	}
}

func TestCompareRejectsUnknownMethod(t *testing.T) {
	data := encodePNG(t, gradientImage(16, 16))
	if _, err := NewEngine().Compare(context.Background(), Method("ssim"), data, data); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestCompareHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := encodePNG(t, gradientImage(16, 16))
	if _, err := NewEngine().Compare(ctx, MethodHash, data, data); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPearsonDegenerateInputsReturnZero(t *testing.T) {
	flat := []float64{5, 5, 5, 5}
	varied := []float64{1, 2, 3, 4}

	if got := pearson(flat, varied); got != 0 {
		t.Fatalf("expected 0 for zero-variance input, got %f", got)
	}
	if got := pearson(varied, varied[:2]); got != 0 {
		t.Fatalf("expected 0 for length mismatch, got %f", got)
	}
	if got := pearson(nil, nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %f", got)
	}
}

func gradientImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) * 255 / (width + height)),
				A: 255,
			})
		}
	}
	return img
}

func invertedGradientImage(width, height int) *image.RGBA {
	img := gradientImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
