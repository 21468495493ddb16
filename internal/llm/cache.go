package llm

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/storage"
)

// ImageAnalyzer describes an item from its photo.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, img *capture.Image) (string, error)
}

// AnalysisCache is the subset of storage.Store the cache needs.
type AnalysisCache interface {
	GetAnalysisCache(imageHash string) (*storage.AnalysisCacheEntry, error)
	SetAnalysisCache(imageHash string, entry *storage.AnalysisCacheEntry) error
}

// CachedAnalyzer wraps an ImageAnalyzer with SQLite caching keyed by the
// image content hash. Retrying with the same photo skips the remote call.
type CachedAnalyzer struct {
	inner   ImageAnalyzer
	store   AnalysisCache
	backend string
}

// NewCachedAnalyzer creates a cached analyzer. backend is recorded with
// each entry so results of different analyzers can be told apart.
func NewCachedAnalyzer(inner ImageAnalyzer, store AnalysisCache, backend string) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, store: store, backend: backend}
}

// AnalyzeImage implements ImageAnalyzer with caching. Cache failures are
// logged and never fail the analysis.
func (c *CachedAnalyzer) AnalyzeImage(ctx context.Context, img *capture.Image) (string, error) {
	hash := img.Hash()

	if c.store != nil {
		cached, err := c.store.GetAnalysisCache(hash)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check analysis cache")
		} else if cached != nil && cached.Backend == c.backend {
			log.Debug().Str("hash", hash[:16]).Msg("analysis cache hit")
			return cached.Text, nil
		}
	}

	text, err := c.inner.AnalyzeImage(ctx, img)
	if err != nil {
		return "", err
	}

	if c.store != nil {
		entry := &storage.AnalysisCacheEntry{Text: text, Backend: c.backend}
		if err := c.store.SetAnalysisCache(hash, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache analysis result")
		} else {
			log.Debug().Str("hash", hash[:16]).Msg("cached analysis result")
		}
	}

	return text, nil
}
