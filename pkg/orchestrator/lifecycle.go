package orchestrator

import (
	"time"

	"github.com/ski11z/autoboom/pkg/fsm"
	"github.com/ski11z/autoboom/pkg/model"
)

// LifecycleName is the registered name of the project lifecycle definition.
const LifecycleName = "project-lifecycle"

// ConfigureTimeout bounds how long a run may stay in configuring.
const ConfigureTimeout = 10 * time.Minute

// Lifecycle events.
const (
	EvStart       fsm.Event = "start"
	EvConfigure   fsm.Event = "configure"
	EvImage       fsm.Event = "enter_image"
	EvVideo       fsm.Event = "enter_video"
	EvTextToVideo fsm.Event = "enter_text_to_video"
	EvCreateImage fsm.Event = "enter_create_image"
	EvDownload    fsm.Event = "enter_download"
	EvPause       fsm.Event = "pause"
	EvResume      fsm.Event = "resume"
	EvComplete    fsm.Event = "complete"
	EvFail        fsm.Event = "fail"
	EvStop        fsm.Event = "stop"
)

// ctxPausedPhase is the machine context key holding the state to resume to.
const ctxPausedPhase = "paused_phase"

var (
	stIdle        = fsm.State(model.StateIdle)
	stConfiguring = fsm.State(model.StateConfiguring)
	stImage       = fsm.State(model.StateImagePhase)
	stVideo       = fsm.State(model.StateVideoPhase)
	stTextToVideo = fsm.State(model.StateTextToVideoPhase)
	stCreateImage = fsm.State(model.StateCreateImagePhase)
	stDownload    = fsm.State(model.StateDownloadPhase)
	stPaused      = fsm.State(model.StatePaused)
	stCompleted   = fsm.State(model.StateCompleted)
	stError       = fsm.State(model.StateError)

	workingStates = []fsm.State{stConfiguring, stImage, stVideo, stTextToVideo, stCreateImage, stDownload}
	allStates     = append(append([]fsm.State{stIdle}, workingStates...), stPaused, stCompleted, stError)
)

var lifecycle = fsm.MustRegister(newLifecycle())

func pausedFrom(target fsm.State) fsm.Guard {
	return func(m *fsm.Machine, _ any) bool {
		v, _ := m.Get(ctxPausedPhase)
		s, _ := v.(string)
		return fsm.State(s) == target
	}
}

// newLifecycle builds the project lifecycle. Forward events are accepted
// from paused as well, so a pause that races the end of a phase does not
// strand the run.
func newLifecycle() *fsm.Definition {
	t := map[fsm.State][]fsm.Transition{}
	add := func(from fsm.State, ev fsm.Event, to fsm.State) {
		t[from] = append(t[from], fsm.Transition{Event: ev, Target: to})
	}

	for _, s := range allStates {
		add(s, EvStart, stConfiguring)
		add(s, EvStop, stIdle)
	}

	forward := append([]fsm.State{stPaused}, workingStates...)
	for _, s := range forward {
		add(s, EvFail, stError)
		add(s, EvComplete, stCompleted)
		add(s, EvDownload, stDownload)
	}
	for _, s := range []fsm.State{stConfiguring, stPaused} {
		add(s, EvImage, stImage)
		add(s, EvVideo, stVideo)
		add(s, EvTextToVideo, stTextToVideo)
		add(s, EvCreateImage, stCreateImage)
	}
	add(stImage, EvConfigure, stConfiguring)
	add(stPaused, EvConfigure, stConfiguring)

	for _, s := range workingStates {
		add(s, EvPause, stPaused)
		t[stPaused] = append(t[stPaused], fsm.Transition{Event: EvResume, Target: s, Guard: pausedFrom(s)})
	}

	return &fsm.Definition{
		Name:        LifecycleName,
		Initial:     stIdle,
		Transitions: t,
		Timeouts: map[fsm.State]fsm.Timeout{
			stConfiguring: {After: ConfigureTimeout, Event: EvFail},
		},
	}
}
