package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/3leaps/vidsentry/internal/apperrors"
	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/jobrunner"
	"github.com/3leaps/vidsentry/pkg/videostore"
)

const maxFormValue = 4 << 10

// readMultipart streams a multipart job submission. The "file" part (or
// "dataset" for training) is spooled to a temporary file that becomes the
// job payload; other parts are form fields.
func (a *API) readMultipart(r *http.Request, kind job.Kind) (job.Params, jobrunner.Payload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return job.Params{}, nil, apperrors.BadRequest("invalid multipart body", err)
	}

	fields := make(map[string]string)
	var spooled *spooledFile
	fail := func(err error) (job.Params, jobrunner.Payload, error) {
		if spooled != nil {
			_ = os.Remove(spooled.path)
		}
		return job.Params{}, nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(apperrors.BadRequest("invalid multipart body", err))
		}

		name := part.FormName()
		if part.FileName() != "" && (name == "file" || name == "dataset") {
			if spooled != nil {
				_ = part.Close()
				return fail(apperrors.BadRequest("only one file part is accepted", nil))
			}
			spooled, err = a.spool(part)
			_ = part.Close()
			if err != nil {
				return fail(err)
			}
			spooled.field = name
			continue
		}

		val, err := io.ReadAll(io.LimitReader(part, maxFormValue))
		_ = part.Close()
		if err != nil {
			return fail(apperrors.BadRequest("invalid multipart body", err))
		}
		fields[name] = strings.TrimSpace(string(val))
	}

	params, err := formParams(kind, fields)
	if err != nil {
		return fail(err)
	}
	if spooled == nil {
		return params, nil, nil
	}

	if spooled.field == "dataset" {
		params.Training.DatasetFile = spooled.name
	} else {
		params.Source.FileName = spooled.name
		params.Source.Size = spooled.size
		params.Source.ContentType = spooled.contentType
		if params.Source.ContentType == "" || params.Source.ContentType == "application/octet-stream" {
			if sniffed, err := videostore.DetectFile(spooled.path); err == nil {
				params.Source.ContentType = sniffed
			}
		}
	}
	return params, jobrunner.FilePayload{Path: spooled.path, Temporary: true}, nil
}

type spooledFile struct {
	field       string
	name        string
	path        string
	size        int64
	contentType string
}

// spool copies one file part to disk, stopping one byte past the upload
// limit so oversized files fail validation without being read in full.
func (a *API) spool(part *multipart.Part) (*spooledFile, error) {
	f, err := os.CreateTemp(a.TempDir, "vidsentry-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create upload spool: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(part, job.MaxUploadBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return nil, apperrors.BadRequest("failed to read uploaded file", err)
	}
	if n > job.MaxUploadBytes {
		_ = os.Remove(f.Name())
		return nil, job.NewValidationError("source.size", job.MsgFileTooLarge)
	}
	return &spooledFile{
		name:        filepath.Base(filepath.ToSlash(part.FileName())),
		path:        f.Name(),
		size:        n,
		contentType: part.Header.Get("Content-Type"),
	}, nil
}

// formParams maps form fields onto job params. Field names follow the JSON
// body: url, type, model, threshold, save_results, model_name, model_type,
// dataset_path, epochs, learning_rate.
func formParams(kind job.Kind, f map[string]string) (job.Params, error) {
	var p job.Params
	p.Source.URL = f["url"]

	switch kind {
	case job.KindDetection:
		p.Detection.Type = job.DetectionType(f["type"])
		p.Detection.Model = f["model"]
		if v := f["threshold"]; v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, job.NewValidationError("detection.threshold", job.MsgThresholdOutOfRange)
			}
			p.Detection.Threshold = n
		}
		if v := f["save_results"]; v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return p, apperrors.BadRequest("save_results must be true or false", err)
			}
			p.Detection.SaveResults = &b
		}
	case job.KindTraining:
		p.Training.ModelName = f["model_name"]
		p.Training.ModelType = job.DetectionType(f["model_type"])
		p.Training.DatasetPath = f["dataset_path"]
		if v := f["epochs"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return p, job.NewValidationError("training.epochs", job.MsgEpochsOutOfRange)
			}
			p.Training.Epochs = n
		}
		if v := f["learning_rate"]; v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, job.NewValidationError("training.learning_rate", job.MsgInvalidLearningRate)
			}
			p.Training.LearningRate = n
		}
	}
	return p, nil
}
