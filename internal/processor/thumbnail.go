package processor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/mediapanel/internal/config"
	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

const (
	qualityStep  = 10
	minQuality   = 10
	defaultSize  = 170
	defaultLimit = 20 * 1024
)

// Compile-time interface check.
var _ domain.Processor = (*ThumbnailProcessor)(nil)

// ThumbnailConfig holds configuration for thumbnail generation
type ThumbnailConfig struct {
	// Size is the bounding box edge in pixels
	Size int
	// Quality is the starting JPEG quality
	Quality int
	// MaxBytes is the panel's reassembly buffer capacity
	MaxBytes int
}

// ThumbnailConfigFromApp extracts the thumbnail settings from the application config
func ThumbnailConfigFromApp(cfg *config.AppConfig) ThumbnailConfig {
	return ThumbnailConfig{
		Size:     cfg.Bridge.ThumbnailSize,
		Quality:  cfg.Bridge.JPEGQuality,
		MaxBytes: cfg.Engine.BufferCapacity,
	}
}

// ThumbnailProcessor shrinks album art into a JPEG the panel can buffer in one piece
type ThumbnailProcessor struct {
	logger *zap.Logger
	config ThumbnailConfig
}

// NewThumbnailProcessor creates a new thumbnail processor
func NewThumbnailProcessor(logger *zap.Logger, cfg ThumbnailConfig) *ThumbnailProcessor {
	if cfg.Size <= 0 {
		cfg.Size = defaultSize
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 85
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultLimit
	}
	return &ThumbnailProcessor{logger: logger, config: cfg}
}

// Thumbnail decodes imageData, fits it into the configured box and encodes it as JPEG.
// The quality drops in steps until the result fits MaxBytes.
func (p *ThumbnailProcessor) Thumbnail(ctx context.Context, imageData []byte) ([]byte, error) {
	// 1. Decode, honoring EXIF orientation of camera-made covers
	img, err := imaging.Decode(bytes.NewReader(imageData), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	// 2. Fit into the bounding box, never upscaling
	thumb := imaging.Fit(img, p.config.Size, p.config.Size, imaging.Lanczos)
	p.logger.Debug("Thumbnail resized",
		zap.Int("w", thumb.Bounds().Dx()),
		zap.Int("h", thumb.Bounds().Dy()))

	// 3. Encode, lowering quality until it fits
	buf := new(bytes.Buffer)
	for quality := p.config.Quality; ; quality = max(quality-qualityStep, minQuality) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf.Reset()
		if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
		}

		if buf.Len() <= p.config.MaxBytes {
			p.logger.Debug("Thumbnail encoded",
				zap.Int("bytes", buf.Len()),
				zap.Int("quality", quality))
			return bytes.Clone(buf.Bytes()), nil
		}

		if quality == minQuality {
			return nil, fmt.Errorf("thumbnail is %d bytes at minimum quality, limit is %d", buf.Len(), p.config.MaxBytes)
		}
		p.logger.Debug("Thumbnail too large, lowering quality",
			zap.Int("bytes", buf.Len()),
			zap.Int("quality", quality))
	}
}
