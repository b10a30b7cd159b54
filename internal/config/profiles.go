package config

import (
	"context"
	"fmt"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// StaticProfiles serves site profiles from the loaded configuration. The map
// is read-only after Load, so no locking is needed.
type StaticProfiles struct {
	sources ProfileMap
}

// Profiles returns a profile source over the config's sources section.
func (c Config) Profiles() *StaticProfiles {
	return &StaticProfiles{sources: c.Sources}
}

// NewStaticProfiles builds a profile source from an explicit map.
func NewStaticProfiles(sources ProfileMap) *StaticProfiles {
	return &StaticProfiles{sources: sources}
}

// Profile resolves the site profile for a customer source pair.
func (p *StaticProfiles) Profile(_ context.Context, customerID, sourceID string) (ingest.SiteProfile, error) {
	sources, ok := p.sources[customerID]
	if !ok {
		return ingest.SiteProfile{}, fmt.Errorf("customer %q has no configured sources", customerID)
	}
	profile, ok := sources[sourceID]
	if !ok {
		return ingest.SiteProfile{}, fmt.Errorf("customer %q has no source %q", customerID, sourceID)
	}
	if profile.SourceID == "" {
		profile.SourceID = sourceID
	}
	return profile, nil
}
