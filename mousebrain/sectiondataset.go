package mousebrain

import (
	"context"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/openatlas/atlasfetch/atlasfetch"
	"github.com/openatlas/atlasfetch/internal/imaging"
)

// DownsampleTier describes one published resolution of a section image,
// including the crop rectangle isolating the tissue section.
type DownsampleTier struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SectionImage is the metadata for a single image within a section data set.
type SectionImage struct {
	ID            int64                     `json:"id"`
	SectionNumber int                       `json:"section_number"`
	ImageFileName string                    `json:"image_file_name"`
	Width         int                       `json:"width"`
	Height        int                       `json:"height"`
	Downsampling  map[string]DownsampleTier `json:"downsampling"`
}

type sectionDataSetMeta struct {
	ID            int64          `json:"id"`
	SectionImages []SectionImage `json:"section_images"`
}

// SectionDataSet is the loaded metadata for one section data set, indexed
// by tissue index (section number) and by sub-image ID.
type SectionDataSet struct {
	fetcher *atlasfetch.Fetcher
	id      int64

	byTissueIndex    map[int]SectionImage
	tissueBySubImage map[int64]int
	tissueIndices    []int
	subImageIDs      []int64
}

// OpenSectionDataSet downloads (or loads from cache) the metadata for the
// section data set with the given ID and indexes its section images.
func (c *Client) OpenSectionDataSet(ctx context.Context, sectionID int64) (*SectionDataSet, error) {
	file, err := c.fetcher.Open(ctx, sectionMetadataKey(sectionID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var meta sectionDataSetMeta
	if err := json.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("mousebrain: decode %s: %w", file.Name(), err)
	}

	ds := &SectionDataSet{
		fetcher:          c.fetcher,
		id:               sectionID,
		byTissueIndex:    make(map[int]SectionImage, len(meta.SectionImages)),
		tissueBySubImage: make(map[int64]int, len(meta.SectionImages)),
	}

	for _, img := range meta.SectionImages {
		if _, dup := ds.byTissueIndex[img.SectionNumber]; dup {
			return nil, fmt.Errorf("mousebrain: section_data_set_%d: duplicate tissue index %d", sectionID, img.SectionNumber)
		}
		if _, dup := ds.tissueBySubImage[img.ID]; dup {
			return nil, fmt.Errorf("mousebrain: section_data_set_%d: duplicate sub-image %d", sectionID, img.ID)
		}
		ds.byTissueIndex[img.SectionNumber] = img
		ds.tissueBySubImage[img.ID] = img.SectionNumber
		ds.tissueIndices = append(ds.tissueIndices, img.SectionNumber)
		ds.subImageIDs = append(ds.subImageIDs, img.ID)
	}
	sort.Ints(ds.tissueIndices)
	sort.Slice(ds.subImageIDs, func(i, j int) bool { return ds.subImageIDs[i] < ds.subImageIDs[j] })

	return ds, nil
}

// ID returns the section data set ID.
func (s *SectionDataSet) ID() int64 { return s.id }

// TissueIndices returns the sorted tissue index values available in this
// section data set.
func (s *SectionDataSet) TissueIndices() []int {
	out := make([]int, len(s.tissueIndices))
	copy(out, s.tissueIndices)
	return out
}

// SubImageIDs returns the sorted sub-image ID values available in this
// section data set.
func (s *SectionDataSet) SubImageIDs() []int64 {
	out := make([]int64, len(s.subImageIDs))
	copy(out, s.subImageIDs)
	return out
}

// ImageByTissueIndex returns the section image metadata for a tissue index.
func (s *SectionDataSet) ImageByTissueIndex(tissueIndex int) (SectionImage, error) {
	img, ok := s.byTissueIndex[tissueIndex]
	if !ok {
		return SectionImage{}, fmt.Errorf("%w: %d in section_data_set_%d", ErrUnknownTissueIndex, tissueIndex, s.id)
	}
	return img.clone(), nil
}

// ImageBySubImage returns the section image metadata for a sub-image ID.
func (s *SectionDataSet) ImageBySubImage(subImage int64) (SectionImage, error) {
	tissueIndex, ok := s.tissueBySubImage[subImage]
	if !ok {
		return SectionImage{}, fmt.Errorf("%w: %d in section_data_set_%d", ErrUnknownSubImage, subImage, s.id)
	}
	return s.byTissueIndex[tissueIndex].clone(), nil
}

// clone copies the image metadata so callers can mutate the downsampling
// map without corrupting the index.
func (img SectionImage) clone() SectionImage {
	out := img
	out.Downsampling = make(map[string]DownsampleTier, len(img.Downsampling))
	for tier, rect := range img.Downsampling {
		out.Downsampling[tier] = rect
	}
	return out
}

// SectionURL returns the brain-map.org viewer page for this section data set.
func (s *SectionDataSet) SectionURL() string {
	return fmt.Sprintf("http://mouse.brain-map.org/experiment/show/%d", s.id)
}

// SubImageURL returns the brain-map.org high quality image viewer link for
// a sub-image.
func (s *SectionDataSet) SubImageURL(subImage int64) (string, error) {
	if _, ok := s.tissueBySubImage[subImage]; !ok {
		return "", fmt.Errorf("%w: %d in section_data_set_%d", ErrUnknownSubImage, subImage, s.id)
	}
	return fmt.Sprintf("http://mouse.brain-map.org/experiment/siv?id=%d&imageId=%d&initImage=ish", s.id, subImage), nil
}

// TissueIndexURL is SubImageURL keyed by tissue index.
func (s *SectionDataSet) TissueIndexURL(tissueIndex int) (string, error) {
	img, err := s.ImageByTissueIndex(tissueIndex)
	if err != nil {
		return "", err
	}
	return s.SubImageURL(img.ID)
}

// DownloadImageByTissueIndex downloads the TIFF for the given tissue index
// at one downsample tier, crops it to the tier's tissue rectangle, and
// writes the result to dst (format chosen by extension).
//
// The full TIFF lands in the fetcher's cache, so repeating the call for a
// different crop or destination transfers nothing. dst itself is refused
// when present unless clobber is set.
func (s *SectionDataSet) DownloadImageByTissueIndex(ctx context.Context, tissueIndex, downsample int, dst string, clobber bool) error {
	img, err := s.ImageByTissueIndex(tissueIndex)
	if err != nil {
		return err
	}
	return s.downloadImage(ctx, img, downsample, dst, clobber)
}

// DownloadImageBySubImage is DownloadImageByTissueIndex keyed by sub-image ID.
func (s *SectionDataSet) DownloadImageBySubImage(ctx context.Context, subImage int64, downsample int, dst string, clobber bool) error {
	img, err := s.ImageBySubImage(subImage)
	if err != nil {
		return err
	}
	return s.downloadImage(ctx, img, downsample, dst, clobber)
}

func (s *SectionDataSet) downloadImage(ctx context.Context, img SectionImage, downsample int, dst string, clobber bool) error {
	tierKey := fmt.Sprintf("downsample_%d", downsample)
	tier, ok := img.Downsampling[tierKey]
	if !ok {
		return fmt.Errorf("%w: %s for %s", ErrUnknownDownsample, tierKey, img.ImageFileName)
	}

	if !clobber {
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%w: %s", ErrLocalExists, dst)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("mousebrain: stat %s: %w", dst, err)
		}
	}

	key := fmt.Sprintf("section_data_set_%d/%s/%s", s.id, tierKey, img.ImageFileName)
	local, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		return err
	}

	decoded, err := imaging.DecodeFile(local)
	if err != nil {
		return err
	}

	cropped := imaging.Crop(decoded, image.Rect(tier.X, tier.Y, tier.X+tier.Width, tier.Y+tier.Height))
	return imaging.EncodeFile(dst, cropped)
}
