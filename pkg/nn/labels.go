package nn

// Labels is the ground truth for one image: one class and one normalized box
// per annotated object. Classes and Boxes always have equal length, and the
// count varies per image, so Labels are never stacked across a batch.
type Labels struct {
	ImageID int64     `json:"imageID"`
	Classes []int     `json:"classes"`
	Boxes   []BoxNorm `json:"boxes"`
}

func (l *Labels) Len() int {
	return len(l.Classes)
}

// ObjectDetection is an object that the model found in an image
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// ImageDetections is the decoded model output for one image
type ImageDetections struct {
	ImageID int64             `json:"imageID"`
	Objects []ObjectDetection `json:"objects"`
}
