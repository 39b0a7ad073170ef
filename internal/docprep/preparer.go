package docprep

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	fitz "github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

const jpegQuality = 85

// Preparer converts uploaded documents into analyzer-ready image bytes.
// PDFs are rendered to their first page; images pass through, optionally
// enhanced for OCR.
type Preparer struct {
	enhance bool
	logger  *zap.Logger
}

// NewPreparer creates a new document preparer
func NewPreparer(enhance bool, logger *zap.Logger) *Preparer {
	return &Preparer{
		enhance: enhance,
		logger:  logger,
	}
}

// Prepare returns image bytes for the uploaded document. The filename's
// extension decides the handling; unsupported types are an error.
func (p *Preparer) Prepare(data []byte, filename string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".pdf":
		img, err := p.firstPage(data)
		if err != nil {
			return nil, err
		}
		if p.enhance {
			img = enhanceForOCR(img)
		}
		return encodeJPEG(img)

	case ".jpg", ".jpeg", ".png":
		if !p.enhance {
			return data, nil
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		return encodeJPEG(enhanceForOCR(img))

	default:
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}
}

// firstPage renders the first PDF page as an image
func (p *Preparer) firstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	p.logger.Debug("Rendering PDF for analysis", zap.Int("total_pages", doc.NumPage()))

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("failed to render PDF page: %w", err)
	}
	return img, nil
}

// enhanceForOCR applies the pre-OCR cleanup chain: grayscale for contrast,
// then contrast, sharpening and a slight brightness lift.
func enhanceForOCR(src image.Image) image.Image {
	img := imaging.Grayscale(src)
	img = imaging.AdjustContrast(img, 30)
	img = imaging.Sharpen(img, 1.5)
	img = imaging.AdjustBrightness(img, 10)
	return img
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
