// Package boot runs the one-time startup sequence: make the artifacts local,
// check the label table, load the model.
package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/shop-classifier/internal/config"
	"github.com/Brownie44l1/shop-classifier/internal/handlers"
	"github.com/Brownie44l1/shop-classifier/internal/labels"
	"github.com/Brownie44l1/shop-classifier/internal/model"
)

// Fetcher makes sure a file exists locally.
type Fetcher interface {
	EnsureLocal(ctx context.Context, url, dest string) error
}

// Model is a loaded, ready to serve classifier.
type Model interface {
	handlers.Predictor
	Close()
}

// LoadFunc turns local artifacts into a Model.
type LoadFunc func(opts model.Options) (Model, error)

// LoadONNX is the production LoadFunc.
func LoadONNX(opts model.Options) (Model, error) {
	s, err := model.NewServer(opts, labels.NumClasses)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run executes the startup sequence once. Any error means the process must
// not start serving.
func Run(ctx context.Context, cfg *config.Config, fetcher Fetcher, load LoadFunc) (Model, error) {
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := fetcher.EnsureLocal(gctx, cfg.Model.URL, cfg.Model.Path); err != nil {
			return fmt.Errorf("fetch model: %w", err)
		}
		return nil
	})
	if cfg.Model.MetadataURL != "" {
		g.Go(func() error {
			if err := fetcher.EnsureLocal(gctx, cfg.Model.MetadataURL, cfg.Model.MetadataPath); err != nil {
				return fmt.Errorf("fetch metadata: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := labels.Validate(); err != nil {
		return nil, err
	}

	m, err := load(model.Options{
		ModelPath:    cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
		UseCUDA:      cfg.Model.UseCUDA,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"model":    cfg.Model.Path,
		"classes":  labels.NumClasses,
		"duration": time.Since(started).String(),
	}).Info("boot complete")
	return m, nil
}
