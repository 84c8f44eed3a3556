package job

// Result is the payload attached to a completed job. At most one of the
// fields is set, matching the job kind.
type Result struct {
	Detection *DetectionResult `json:"detection,omitempty"`
	Training  *TrainingResult  `json:"training,omitempty"`
	Upload    *UploadResult    `json:"upload,omitempty"`
}

// DetectionResult is the outcome of a detection run.
type DetectionResult struct {
	DetectionType    DetectionType `json:"detection_type"`
	Triggered        bool          `json:"triggered"`
	ConfidenceScore  float64       `json:"confidence_score"`
	ProcessingTimeMs int           `json:"processing_time_ms"`
	PersonCount      int           `json:"person_count,omitempty"`
	Detections       []Detection   `json:"detections,omitempty"`
}

// Detection is a single object found in a video.
type Detection struct {
	ObjectType  string      `json:"object_type"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
	// OffsetSec is the position in the video, in seconds.
	OffsetSec float64 `json:"offset_sec"`
}

// BoundingBox is expressed in fractions of the frame size.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TrainingResult is the outcome of a training run.
type TrainingResult struct {
	ModelID         string  `json:"model_id"`
	Accuracy        float64 `json:"accuracy"`
	TrainingTimeSec int     `json:"training_time_sec"`
	Epochs          int     `json:"epochs"`
}

// UploadResult records where an uploaded video was stored.
type UploadResult struct {
	StorageKey string `json:"storage_key"`
	Bytes      int64  `json:"bytes"`
}
