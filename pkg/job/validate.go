package job

import (
	"errors"
	"net/url"
	"strings"
)

// User-facing validation messages.
const (
	MsgMissingVideoSource    = "missing video source"
	MsgUnsupportedFileType   = "unsupported file type"
	MsgFileTooLarge          = "file too large"
	MsgMissingURLScheme      = "invalid url: missing scheme"
	MsgInvalidURL            = "invalid url"
	MsgMissingModelName      = "missing model name"
	MsgMissingDatasetSource  = "missing dataset source"
	MsgEpochsOutOfRange      = "epochs out of range"
	MsgThresholdOutOfRange   = "threshold out of range"
	MsgUnsupportedDetection  = "unsupported detection type"
	MsgUnsupportedModelType  = "unsupported model type"
	MsgInvalidLearningRate   = "invalid learning rate"
	MsgModelNotFound         = "model not found"
	MsgUnsupportedJobKind    = "unsupported job kind"
	MsgMissingDetectionModel = "missing detection model"
)

// ValidationError is an input problem detected before a job starts.
//
// Error returns only the message so it can be shown to users verbatim.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// NewValidationError builds a ValidationError for checks made outside this
// package (for example a model lookup against the catalog).
func NewValidationError(field, msg string) error {
	return invalid(field, msg)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks params for the given kind. Defaults are expected to have
// been applied already (see Params.WithDefaults).
func Validate(kind Kind, p Params) error {
	switch kind {
	case KindUpload:
		return validateSource(p.Source)
	case KindDetection:
		if err := validateSource(p.Source); err != nil {
			return err
		}
		return validateDetection(p.Detection)
	case KindTraining:
		return validateTraining(p.Training)
	default:
		return invalid("kind", MsgUnsupportedJobKind)
	}
}

func validateSource(s Source) error {
	if !s.HasFile() && !s.HasURL() {
		return invalid("source", MsgMissingVideoSource)
	}
	if s.HasFile() {
		if !AllowedVideoTypes[strings.ToLower(strings.TrimSpace(s.ContentType))] {
			return invalid("source.content_type", MsgUnsupportedFileType)
		}
		if s.Size > MaxUploadBytes {
			return invalid("source.size", MsgFileTooLarge)
		}
		return nil
	}
	return validateURL(s.URL)
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return invalid("source.url", MsgMissingURLScheme)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return invalid("source.url", MsgInvalidURL)
	}
	return nil
}

func validateDetection(d DetectionParams) error {
	if _, ok := ParseDetectionType(string(d.Type)); !ok {
		return invalid("detection.type", MsgUnsupportedDetection)
	}
	if strings.TrimSpace(d.Model) == "" {
		return invalid("detection.model", MsgMissingDetectionModel)
	}
	if d.Threshold < 0 || d.Threshold > 100 {
		return invalid("detection.threshold", MsgThresholdOutOfRange)
	}
	return nil
}

func validateTraining(t TrainingParams) error {
	if strings.TrimSpace(t.ModelName) == "" {
		return invalid("training.model_name", MsgMissingModelName)
	}
	if t.DatasetSource() == "" {
		return invalid("training.dataset", MsgMissingDatasetSource)
	}
	if _, ok := ParseDetectionType(string(t.ModelType)); !ok {
		return invalid("training.model_type", MsgUnsupportedModelType)
	}
	if t.Epochs < MinEpochs || t.Epochs > MaxEpochs {
		return invalid("training.epochs", MsgEpochsOutOfRange)
	}
	if t.LearningRate <= 0 || t.LearningRate >= 1 {
		return invalid("training.learning_rate", MsgInvalidLearningRate)
	}
	return nil
}
