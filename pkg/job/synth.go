package job

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Synthesizer produces the result payload for a completed job.
//
// Implementations stand in for a real inference or training backend. Upload
// jobs have no synthesized payload and may return nil.
type Synthesizer interface {
	Synthesize(kind Kind, params Params) *Result
}

// RandomSynthesizer fabricates plausible results from a seeded PRNG.
//
// Ranges:
//   - detection confidence in [85,100) when triggered, [10,50) otherwise
//   - detection processing time in [1000,5000) ms
//   - training accuracy in [0.75,0.95), training time in [300,900) s
//
// RandomSynthesizer is safe for concurrent use.
type RandomSynthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSynthesizer returns a synthesizer seeded with seed. A zero seed
// uses the current time.
func NewRandomSynthesizer(seed uint64) *RandomSynthesizer {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomSynthesizer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Synthesize implements Synthesizer.
func (s *RandomSynthesizer) Synthesize(kind Kind, params Params) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case KindDetection:
		return &Result{Detection: s.detection(params.Detection)}
	case KindTraining:
		return &Result{Training: s.training(params.Training)}
	default:
		return nil
	}
}

func (s *RandomSynthesizer) detection(p DetectionParams) *DetectionResult {
	triggered := s.rng.Float64() > 0.5
	res := &DetectionResult{
		DetectionType:    p.Type,
		Triggered:        triggered,
		ProcessingTimeMs: 1000 + s.rng.IntN(4000),
	}
	if triggered {
		res.ConfidenceScore = 85 + s.rng.Float64()*15
	} else {
		res.ConfidenceScore = 10 + s.rng.Float64()*40
	}

	if !triggered {
		return res
	}

	switch p.Type {
	case DetectionPerson:
		n := 5 + s.rng.IntN(6)
		res.PersonCount = n
		res.Detections = make([]Detection, 0, n)
		for i := 0; i < n; i++ {
			res.Detections = append(res.Detections, Detection{
				ObjectType: "person",
				Confidence: 0.7 + s.rng.Float64()*0.3,
				BoundingBox: BoundingBox{
					X:      s.rng.Float64() * 0.8,
					Y:      s.rng.Float64() * 0.8,
					Width:  0.1 + s.rng.Float64()*0.2,
					Height: 0.2 + s.rng.Float64()*0.3,
				},
				OffsetSec: s.rng.Float64() * 60,
			})
		}
	default:
		res.Detections = []Detection{{
			ObjectType:  "violent_action",
			Confidence:  res.ConfidenceScore / 100,
			BoundingBox: BoundingBox{X: 0.1, Y: 0.1, Width: 0.8, Height: 0.8},
		}}
	}
	return res
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func (s *RandomSynthesizer) training(p TrainingParams) *TrainingResult {
	var id strings.Builder
	id.WriteString("model-")
	for i := 0; i < 8; i++ {
		id.WriteByte(base36[s.rng.IntN(len(base36))])
	}
	return &TrainingResult{
		ModelID:         id.String(),
		Accuracy:        0.75 + s.rng.Float64()*0.2,
		TrainingTimeSec: 300 + s.rng.IntN(600),
		Epochs:          p.Epochs,
	}
}

// FixedSynthesizer returns the same results every time. Epochs and the
// detection type are taken from params so results stay consistent with the
// request.
type FixedSynthesizer struct {
	Detection DetectionResult
	Training  TrainingResult
}

// Synthesize implements Synthesizer.
func (f FixedSynthesizer) Synthesize(kind Kind, params Params) *Result {
	switch kind {
	case KindDetection:
		d := f.Detection
		d.DetectionType = params.Detection.Type
		d.Detections = append([]Detection(nil), f.Detection.Detections...)
		return &Result{Detection: &d}
	case KindTraining:
		t := f.Training
		t.Epochs = params.Training.Epochs
		return &Result{Training: &t}
	default:
		return nil
	}
}
