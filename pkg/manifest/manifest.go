// Package manifest loads vidsentry job manifests.
//
// A job manifest is a YAML or JSON file describing one upload, detection, or
// training run. Manifests are checked against an embedded JSON Schema that
// disallows unknown properties before they are turned into job parameters.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	kind: detection
//	name: lobby-camera
//	source:
//	  file: clips/lobby.mp4
//	detection:
//	  type: person
//	  model: person-detector-v1
//	  threshold: 60
package manifest

import (
	"path/filepath"
	"strings"

	"github.com/3leaps/vidsentry/pkg/job"
)

// Manifest is a validated job request.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty"`

	// Version must be "1.0".
	Version string `json:"version"`

	Kind string `json:"kind"`

	// Name labels background runs in `jobs list`.
	Name string `json:"name,omitempty"`

	Source    *SourceConfig    `json:"source,omitempty"`
	Detection *DetectionConfig `json:"detection,omitempty"`
	Training  *TrainingConfig  `json:"training,omitempty"`

	// Dir is the directory the manifest was loaded from. Relative file
	// paths resolve against it.
	Dir string `json:"-"`
}

// SourceConfig names the video to process.
type SourceConfig struct {
	File        string `json:"file,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// DetectionConfig holds detection settings. Omitted fields take the
// detection defaults.
type DetectionConfig struct {
	Type        string  `json:"type,omitempty"`
	Model       string  `json:"model,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	SaveResults *bool   `json:"save_results,omitempty"`
}

// TrainingConfig holds training settings.
type TrainingConfig struct {
	ModelName    string  `json:"model_name"`
	ModelType    string  `json:"model_type,omitempty"`
	DatasetFile  string  `json:"dataset_file,omitempty"`
	DatasetPath  string  `json:"dataset_path,omitempty"`
	Epochs       int     `json:"epochs,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

// JobKind returns the kind of job the manifest requests.
func (m *Manifest) JobKind() (job.Kind, error) {
	return job.ParseKind(m.Kind)
}

// SourceFile returns the video file path resolved against Dir, or "" for
// URL sources.
func (m *Manifest) SourceFile() string {
	if m.Source == nil {
		return ""
	}
	return m.resolve(m.Source.File)
}

func (m *Manifest) resolve(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Params converts the manifest into job parameters. File sizes and
// sniffed content types are left for the caller, which owns the file.
func (m *Manifest) Params() job.Params {
	var p job.Params
	if m.Source != nil {
		p.Source = job.Source{
			FileName:    m.SourceFile(),
			URL:         strings.TrimSpace(m.Source.URL),
			ContentType: m.Source.ContentType,
		}
	}
	if d := m.Detection; d != nil {
		p.Detection = job.DetectionParams{
			Type:        job.DetectionType(d.Type),
			Model:       d.Model,
			Threshold:   d.Threshold,
			SaveResults: d.SaveResults,
		}
	}
	if t := m.Training; t != nil {
		p.Training = job.TrainingParams{
			ModelName:    t.ModelName,
			ModelType:    job.DetectionType(t.ModelType),
			DatasetFile:  m.resolve(t.DatasetFile),
			DatasetPath:  t.DatasetPath,
			Epochs:       t.Epochs,
			LearningRate: t.LearningRate,
		}
	}
	return p
}
