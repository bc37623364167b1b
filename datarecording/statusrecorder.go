package datarecording

import (
	"time"

	"github.com/sarchlab/cxxrtlbridge/notify"
)

// StatusTableName is the table that StatusRecorder writes into.
const StatusTableName = "simulation_status"

type statusEntry struct {
	Status         string
	LatestTime     string
	NextSampleTime string
	WallTime       float64
}

// StatusRecorder is a notifier that records every simulation status change
// it is told about. Redraw notifications are ignored.
type StatusRecorder struct {
	recorder DataRecorder
	now      func() time.Time
}

// NewStatusRecorder creates the status table in the recorder and returns a
// notifier that fills it.
func NewStatusRecorder(recorder DataRecorder) *StatusRecorder {
	recorder.CreateTable(StatusTableName, statusEntry{})

	return &StatusRecorder{
		recorder: recorder,
		now:      time.Now,
	}
}

// Notify implements notify.Notifier.
func (r *StatusRecorder) Notify(msg notify.Message) {
	if msg.Kind != notify.StatusChanged {
		return
	}

	entry := statusEntry{
		Status:     string(msg.Status.Status),
		LatestTime: msg.Status.LatestTime.String(),
		WallTime:   float64(r.now().UnixNano()) / 1e9,
	}

	if msg.Status.NextSampleTime != nil {
		entry.NextSampleTime = msg.Status.NextSampleTime.String()
	}

	r.recorder.InsertData(StatusTableName, entry)
}
