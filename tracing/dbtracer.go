package tracing

import (
	"sync"

	"github.com/sarchlab/cxxrtlbridge/datarecording"
	"github.com/tebeka/atexit"
)

// TraceTableName is the table that DBTracer writes finished tasks into.
const TraceTableName = "trace"

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	Completed bool
}

// DBTracer is a tracer that stores tasks into a data recorder.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]Task
	terminated   bool
}

// NewDBTracer creates a new DBTracer. Tasks that are still in flight when
// the program exits are written with Completed set to false.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TraceTableName, taskTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if task.ID == "" {
		panic("task ID must be set")
	}

	if t.terminated {
		return
	}

	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = task
}

// StepTask marks a step of a task.
func (t *DBTracer) StepTask(_ Task) {
	// Do nothing for now.
}

// EndTask marks the end of a task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	originalTask.EndTime = t.timeTeller.CurrentTime()
	t.write(originalTask, true)

	delete(t.tracingTasks, task.ID)
}

// Terminate writes the unfinished tasks and flushes the recorder. Tasks
// reported after termination are ignored.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	now := t.timeTeller.CurrentTime()
	for _, task := range t.tracingTasks {
		task.EndTime = now
		t.write(task, false)
	}

	t.tracingTasks = nil
	t.terminated = true
	t.backend.Flush()
}

func (t *DBTracer) write(task Task, completed bool) {
	t.backend.InsertData(TraceTableName, taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: secondsOf(task.StartTime),
		EndTime:   secondsOf(task.EndTime),
		Completed: completed,
	})
}
