// Package ivygap provides helpers for the Ivy Glioblastoma Atlas Project
// bucket: donor, specimen, and section metadata tables plus lazy loading
// and bulk downloading of section imagery.
package ivygap

import (
	"context"
	"errors"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

// Bucket is the public S3 bucket hosting the Ivy GAP dataset.
const Bucket = "allen-ivy-glioblastoma-atlas"

// s3URLPrefix leads every image URL in the section metadata.
const s3URLPrefix = "s3://" + Bucket + "/"

const (
	donorMetadataKey    = "donor_metadata.json"
	specimenMetadataKey = "specimen_metadata.json"
	sectionMetadataKey  = "section_metadata.json"
)

// ErrSectionNotFound indicates a section data set ID absent from the
// section metadata table.
var ErrSectionNotFound = errors.New("ivygap: section data set not found")

// DonorMetadata streams the donor metadata table straight from the store.
func DonorMetadata(ctx context.Context, store atlasfetch.Store) (*atlasfetch.Table, error) {
	return loadTable(ctx, store, donorMetadataKey)
}

// SpecimenMetadata streams the specimen metadata table straight from the store.
func SpecimenMetadata(ctx context.Context, store atlasfetch.Store) (*atlasfetch.Table, error) {
	return loadTable(ctx, store, specimenMetadataKey)
}

// SectionMetadata streams the section metadata table straight from the
// store. The file is large (tens of megabytes); prefer LocalSectionMetadata
// when it will be read more than once.
func SectionMetadata(ctx context.Context, store atlasfetch.Store) (*atlasfetch.Table, error) {
	return loadTable(ctx, store, sectionMetadataKey)
}

// LocalSectionMetadata loads the section metadata table through the local
// cache: the first call downloads the file, later calls read the cached copy.
func LocalSectionMetadata(ctx context.Context, fetcher *atlasfetch.Fetcher) (*atlasfetch.Table, error) {
	local, err := fetcher.Fetch(ctx, sectionMetadataKey)
	if err != nil {
		return nil, err
	}
	return atlasfetch.LoadTable(local)
}

func loadTable(ctx context.Context, store atlasfetch.Store, key string) (*atlasfetch.Table, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return atlasfetch.ReadTable(rc)
}
