package ivygap

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/openatlas/atlasfetch/atlasfetch"
	"github.com/openatlas/atlasfetch/internal/imaging"
)

// -----------------------------------------------------------------------------
// Image sources
// -----------------------------------------------------------------------------

// ImageSource resolves an image key to decoded pixel data. FromStore
// downloads into memory on every load; FromCache goes through a fetcher so
// repeated loads read the cached file.
type ImageSource interface {
	loadImage(ctx context.Context, key string) (image.Image, error)
}

// FromStore creates an ImageSource that streams images directly from the
// bucket without writing them to disk.
func FromStore(store atlasfetch.Store) ImageSource {
	return storeSource{store: store}
}

// FromCache creates an ImageSource that fetches images into the local cache
// and decodes the cached files.
func FromCache(fetcher *atlasfetch.Fetcher) ImageSource {
	return cacheSource{fetcher: fetcher}
}

type storeSource struct {
	store atlasfetch.Store
}

func (s storeSource) loadImage(ctx context.Context, key string) (image.Image, error) {
	rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return imaging.Decode(rc)
}

type cacheSource struct {
	fetcher *atlasfetch.Fetcher
}

func (s cacheSource) loadImage(ctx context.Context, key string) (image.Image, error) {
	local, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return imaging.DecodeFile(local)
}

// -----------------------------------------------------------------------------
// Image references
// -----------------------------------------------------------------------------

// ImageRef is a lazy handle on one Ivy GAP image. Section images are large,
// so decoding is deferred until Load is called.
type ImageRef struct {
	// URL is the image's s3:// URL as published in the section metadata.
	URL string

	// Key is the object key within the Ivy GAP bucket.
	Key string

	// Width and Height are the image dimensions in pixels.
	Width  int
	Height int

	src ImageSource
}

// NumPixels returns the total pixel count of the referenced image.
func (r *ImageRef) NumPixels() int {
	return r.Width * r.Height
}

// Load downloads (or reads from cache, depending on the source) and decodes
// the referenced image.
func (r *ImageRef) Load(ctx context.Context) (image.Image, error) {
	if r.src == nil {
		return nil, fmt.Errorf("ivygap: image %s has no source", r.URL)
	}
	return r.src.loadImage(ctx, r.Key)
}

// SubImage is one sub-image entry of a section data set. The metadata row
// is kept as-is; the s3_data URL map is resolved into ImageRefs keyed by
// image kind.
type SubImage struct {
	// Row holds the sub-image attributes from the section metadata.
	Row atlasfetch.Row

	// Images maps image kind to a lazy reference.
	Images map[string]*ImageRef
}

// SectionImages resolves the sub-image entries for one section data set
// from a section metadata table. Images load through src when their Load
// method is called. Returns ErrSectionNotFound for an unknown ID.
func SectionImages(table *atlasfetch.Table, sectionDataSetID int64, src ImageSource) ([]SubImage, error) {
	subImages, err := subImageRows(table, sectionDataSetID)
	if err != nil {
		return nil, err
	}

	out := make([]SubImage, 0, len(subImages))
	for i, raw := range subImages {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %d sub_images[%d] is not an object", atlasfetch.ErrInvalidFormat, sectionDataSetID, i)
		}

		row := atlasfetch.Row(entry)
		width, _ := row.Int("width")
		height, _ := row.Int("height")

		sub := SubImage{
			Row:    row,
			Images: make(map[string]*ImageRef),
		}

		s3Data, ok := entry["s3_data"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: section %d sub_images[%d] has no s3_data", atlasfetch.ErrInvalidFormat, sectionDataSetID, i)
		}
		for kind, v := range s3Data {
			url, ok := v.(string)
			if !ok {
				continue
			}
			sub.Images[kind] = &ImageRef{
				URL:    url,
				Key:    strings.TrimPrefix(url, s3URLPrefix),
				Width:  int(width),
				Height: int(height),
				src:    src,
			}
		}

		out = append(out, sub)
	}

	return out, nil
}

// DownloadSectionImages fetches every image of a section data set into the
// fetcher's cache and returns the local paths. Already-present images are
// skipped by the cache, so the call is idempotent.
func DownloadSectionImages(ctx context.Context, fetcher *atlasfetch.Fetcher, table *atlasfetch.Table, sectionDataSetID int64) ([]string, error) {
	subImages, err := SectionImages(table, sectionDataSetID, FromCache(fetcher))
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, sub := range subImages {
		for _, ref := range sub.Images {
			local, err := fetcher.Fetch(ctx, ref.Key)
			if err != nil {
				return paths, err
			}
			paths = append(paths, local)
		}
	}
	return paths, nil
}

// subImageRows finds the sub_images array for a section data set ID.
func subImageRows(table *atlasfetch.Table, sectionDataSetID int64) ([]any, error) {
	match := table.FilterEq("section_data_set_id", sectionDataSetID)
	row := match.First()
	if row == nil {
		return nil, fmt.Errorf("%w: %d", ErrSectionNotFound, sectionDataSetID)
	}

	subImages, ok := row["sub_images"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: section %d has no sub_images", atlasfetch.ErrInvalidFormat, sectionDataSetID)
	}
	return subImages, nil
}
