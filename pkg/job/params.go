package job

import (
	"net/url"
	"path/filepath"
	"strings"
)

// MaxUploadBytes is the largest video accepted for upload or detection.
const MaxUploadBytes int64 = 500 << 20

// Defaults applied before validation.
const (
	DefaultDetectionModel = "default-violence-model"
	DefaultThreshold      = 70.0
	DefaultEpochs         = 50
	DefaultLearningRate   = 0.001

	MinEpochs = 10
	MaxEpochs = 100
)

// AllowedVideoTypes is the set of MIME types accepted for video files.
var AllowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/avi":       true,
	"video/mov":       true,
	"video/quicktime": true,
	"video/x-msvideo": true,
}

var videoTypesByExt = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/avi",
	".mov": "video/quicktime",
}

// DetectionType selects what a detection run looks for.
type DetectionType string

const (
	DetectionViolence DetectionType = "violence"
	DetectionPerson   DetectionType = "person"
)

// ParseDetectionType accepts short names and the legacy upper-case names
// (VIOLENCE_DETECTION, PERSON_DETECTION) used by older clients.
func ParseDetectionType(s string) (DetectionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "violence", "violence_detection":
		return DetectionViolence, true
	case "person", "person_detection":
		return DetectionPerson, true
	default:
		return "", false
	}
}

// Source identifies the video (or dataset archive) a job operates on.
// When both a file and a URL are set the file wins.
type Source struct {
	FileName    string `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty" yaml:"size,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
}

// HasFile reports whether a file was provided.
func (s Source) HasFile() bool {
	return strings.TrimSpace(s.FileName) != ""
}

// HasURL reports whether a URL was provided.
func (s Source) HasURL() bool {
	return strings.TrimSpace(s.URL) != ""
}

// Name returns a display name for the source.
func (s Source) Name() string {
	if s.HasFile() {
		return filepath.Base(s.FileName)
	}
	if u, err := url.Parse(strings.TrimSpace(s.URL)); err == nil && u.Path != "" {
		if base := filepath.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return strings.TrimSpace(s.URL)
}

// DetectionParams configures a detection run.
type DetectionParams struct {
	Type        DetectionType `json:"type,omitempty" yaml:"type,omitempty"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	Threshold   float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	SaveResults *bool         `json:"save_results,omitempty" yaml:"save_results,omitempty"`
}

// ShouldSave reports whether the result belongs in the results history.
func (d DetectionParams) ShouldSave() bool {
	return d.SaveResults == nil || *d.SaveResults
}

// TrainingParams configures a training run.
type TrainingParams struct {
	ModelName    string        `json:"model_name,omitempty" yaml:"model_name,omitempty"`
	ModelType    DetectionType `json:"model_type,omitempty" yaml:"model_type,omitempty"`
	DatasetFile  string        `json:"dataset_file,omitempty" yaml:"dataset_file,omitempty"`
	DatasetPath  string        `json:"dataset_path,omitempty" yaml:"dataset_path,omitempty"`
	Epochs       int           `json:"epochs,omitempty" yaml:"epochs,omitempty"`
	LearningRate float64       `json:"learning_rate,omitempty" yaml:"learning_rate,omitempty"`
}

// DatasetSource returns the dataset file or path, whichever was given.
func (t TrainingParams) DatasetSource() string {
	if f := strings.TrimSpace(t.DatasetFile); f != "" {
		return f
	}
	return strings.TrimSpace(t.DatasetPath)
}

// Params are the inputs captured when a job is started.
type Params struct {
	Source    Source          `json:"source"`
	Detection DetectionParams `json:"detection"`
	Training  TrainingParams  `json:"training"`
}

// WithDefaults fills optional fields for the given kind.
func (p Params) WithDefaults(kind Kind) Params {
	if p.Source.HasFile() && strings.TrimSpace(p.Source.ContentType) == "" {
		p.Source.ContentType = videoTypesByExt[strings.ToLower(filepath.Ext(p.Source.FileName))]
	}

	switch kind {
	case KindDetection:
		if strings.TrimSpace(p.Detection.Model) == "" {
			p.Detection.Model = DefaultDetectionModel
		}
		if p.Detection.Type == "" {
			p.Detection.Type = DetectionViolence
		} else if t, ok := ParseDetectionType(string(p.Detection.Type)); ok {
			p.Detection.Type = t
		}
		if p.Detection.Threshold == 0 {
			p.Detection.Threshold = DefaultThreshold
		}
	case KindTraining:
		if p.Training.ModelType == "" {
			p.Training.ModelType = DetectionViolence
		} else if t, ok := ParseDetectionType(string(p.Training.ModelType)); ok {
			p.Training.ModelType = t
		}
		if p.Training.Epochs == 0 {
			p.Training.Epochs = DefaultEpochs
		}
		if p.Training.LearningRate == 0 {
			p.Training.LearningRate = DefaultLearningRate
		}
	}
	return p
}
