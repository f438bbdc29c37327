// Package mousebrain provides helpers for the Allen Mouse Brain Atlas
// bucket: atlas-wide metadata, per-section-data-set metadata, and cropped
// section image downloads.
package mousebrain

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bucket is the public S3 bucket hosting the Allen Mouse Brain Atlas.
const Bucket = "allen-mouse-brain-atlas"

// atlasMetadataKey holds the metadata for every section data set.
const atlasMetadataKey = "section_data_sets.json"

// Error sentinel values for invalid lookups.
var (
	// ErrUnknownTissueIndex indicates a tissue index absent from a
	// section data set.
	ErrUnknownTissueIndex = errors.New("mousebrain: unknown tissue index")

	// ErrUnknownSubImage indicates a sub-image ID absent from a section
	// data set.
	ErrUnknownSubImage = errors.New("mousebrain: unknown sub-image")

	// ErrUnknownDownsample indicates a downsample tier a section image
	// was not published at.
	ErrUnknownDownsample = errors.New("mousebrain: unknown downsample tier")

	// ErrLocalExists indicates a download destination that already exists.
	ErrLocalExists = errors.New("mousebrain: destination already exists")
)

// Client accesses the mouse brain atlas through a cache-backed fetcher.
type Client struct {
	fetcher *atlasfetch.Fetcher
}

// NewClient creates a Client over the given fetcher. The fetcher's dataset
// is expected to be bound to the atlas bucket.
func NewClient(fetcher *atlasfetch.Fetcher) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("mousebrain: fetcher is required")
	}
	return &Client{fetcher: fetcher}, nil
}

// AtlasMetadata loads the metadata table for the entire atlas, one row per
// section data set. The backing file is downloaded once and served from the
// local cache afterwards.
func (c *Client) AtlasMetadata(ctx context.Context) (*atlasfetch.Table, error) {
	local, err := c.fetcher.Fetch(ctx, atlasMetadataKey)
	if err != nil {
		return nil, err
	}
	return atlasfetch.LoadTable(local)
}

// SectionMetadata loads the raw metadata document for one section data set.
func (c *Client) SectionMetadata(ctx context.Context, sectionID int64) (map[string]any, error) {
	file, err := c.fetcher.Open(ctx, sectionMetadataKey(sectionID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var meta map[string]any
	if err := json.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("mousebrain: decode %s: %w", file.Name(), err)
	}
	return meta, nil
}

func sectionMetadataKey(sectionID int64) string {
	return fmt.Sprintf("section_data_set_%d/section_data_set.json", sectionID)
}
