package coco

// Index maps an image id to the annotations on that image, in the order they
// appear in the store.
type Index map[int64][]Annotation

// NewIndex builds the index in one pass over the store.
// Every image in the store gets an entry, so a lookup for a valid image id
// never misses. Images that no annotation references map to an empty list.
// Annotations whose image_id is not in the store are indexed too, but nothing
// in the pipeline looks them up.
func NewIndex(s *Store) Index {
	idx := make(Index, len(s.Images))
	for _, img := range s.Images {
		idx[img.ID] = []Annotation{}
	}
	for _, ann := range s.Annotations {
		idx[ann.ImageID] = append(idx[ann.ImageID], ann)
	}
	return idx
}
