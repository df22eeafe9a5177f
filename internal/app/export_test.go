package app

import (
	"context"
	"time"

	"github.com/hawkcrawl/scout/internal/config"
	"github.com/hawkcrawl/scout/internal/evidence"
)

// BuildEvidenceStoreForTest exposes buildEvidenceStore to app_test.
func BuildEvidenceStoreForTest(ctx context.Context, cfg config.Config) (evidence.ArtifactStore, any, error) {
	store, client, err := buildEvidenceStore(ctx, cfg)
	return store, client, err
}

// SecondsToDurationForTest exposes secondsToDuration to app_test.
func SecondsToDurationForTest(s float64) time.Duration {
	return secondsToDuration(s)
}
