package job

import "time"

// Plan describes how a job kind is paced: one tick every Interval, complete
// after TotalTicks ticks.
type Plan struct {
	Interval   time.Duration
	TotalTicks int
}

const (
	uploadInterval    = 500 * time.Millisecond
	uploadTicks       = 10
	detectionInterval = 300 * time.Millisecond
	detectionTicks    = 20
	trainingInterval  = 500 * time.Millisecond
)

// PlanFor returns the tick plan for a kind. Training is paced by epochs:
// roughly one tick per two requested epochs.
func PlanFor(kind Kind, params Params) Plan {
	switch kind {
	case KindUpload:
		return Plan{Interval: uploadInterval, TotalTicks: uploadTicks}
	case KindDetection:
		return Plan{Interval: detectionInterval, TotalTicks: detectionTicks}
	case KindTraining:
		ticks := (params.Training.Epochs + 1) / 2
		if ticks < 1 {
			ticks = 1
		}
		return Plan{Interval: trainingInterval, TotalTicks: ticks}
	default:
		return Plan{Interval: time.Second, TotalTicks: 1}
	}
}
