// Package imaging decodes, crops, and re-encodes section imagery.
//
// Atlas section images are TIFFs; Ivy GAP sub-images are JPEGs. Decoding
// goes through image.Decode with the TIFF format registered, so callers do
// not need to know the container ahead of time.
package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// jpegQuality is used when re-encoding cropped JPEGs.
const jpegQuality = 90

// Decode reads an image in TIFF, JPEG, or PNG format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("imaging: decode: %w", err)
	}
	return img, nil
}

// DecodeFile reads an image file in TIFF, JPEG, or PNG format.
func DecodeFile(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("imaging: open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()
	return Decode(file)
}

// Crop returns the part of img inside r.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Encode writes img to w in the format named by ext (".tif", ".tiff",
// ".jpg", ".jpeg", or ".png").
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".tif", ".tiff":
		return tiff.Encode(w, img, nil)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case ".png":
		return png.Encode(w, img)
	}
	return fmt.Errorf("imaging: unsupported image format %q", ext)
}

// EncodeFile writes img to path, choosing the format from the extension.
func EncodeFile(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imaging: create %s: %w", path, err)
	}

	if err := Encode(file, img, filepath.Ext(path)); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("imaging: close %s: %w", path, err)
	}
	return nil
}
