package replay

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/commons-dev-open/reactive/clock"
	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/pace"
)

// Mode selects the rate-control policy a scenario exercises.
type Mode string

const (
	// ModeDebounce runs the scenario against a debounce proxy.
	ModeDebounce Mode = "debounce"
	// ModeThrottle runs the scenario against a throttle proxy.
	ModeThrottle Mode = "throttle"
)

// Config shapes one scenario run.
type Config struct {
	// Mode selects the policy; empty defaults to debounce.
	Mode Mode
	// Window is the initial control window; zero defaults to pace.DefaultWindow.
	// Scripts change it at runtime with setWindow(ms).
	Window time.Duration
	// Start anchors the virtual clock; zero starts at the Unix epoch.
	Start time.Time
}

// Firing is one recorded payload delivery.
type Firing struct {
	Seq   int             `json:"seq"`
	AtMS  int64           `json:"atMs"`
	Value json.RawMessage `json:"value"`
}

// Report summarises a completed scenario run.
type Report struct {
	Scenario     string   `json:"scenario"`
	RunID        string   `json:"runId"`
	Mode         Mode     `json:"mode"`
	WindowMS     int64    `json:"windowMs"`
	Inputs       int      `json:"inputs"`
	Firings      []Firing `json:"firings"`
	ElapsedMS    int64    `json:"elapsedMs"`
	PendingAtEnd int      `json:"pendingAtEnd"`
	ScenarioHash string   `json:"scenarioHash,omitempty"`
}

// controller is the surface shared by the debounce and throttle proxies.
type controller interface {
	Call(v any)
	SetWindow(d time.Duration)
	Cancel()
	Close()
}

type runState struct {
	clk     *clock.Virtual
	start   time.Time
	inputs  int
	firings []Firing
	encErr  error
}

// record runs on the scenario goroutine: inline for throttle leading edges,
// inside advance() for timer-driven firings.
func (st *runState) record(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		if st.encErr == nil {
			st.encErr = fmt.Errorf("encode firing payload: %w", err)
		}
		data = json.RawMessage("null")
	}
	st.firings = append(st.firings, Firing{
		Seq:   len(st.firings) + 1,
		AtMS:  st.clk.Now().Sub(st.start).Milliseconds(),
		Value: data,
	})
}

// Run evaluates the scenario once and reports what fired when. The script
// sees four globals: input(v) feeds the policy, advance(ms) moves the virtual
// clock (firing due timers), setWindow(ms) retunes the window, and cancel()
// and close() map to the policy operations of the same name.
func Run(scn *Scenario, cfg Config) (*Report, error) {
	if scn == nil {
		return nil, errs.New("replay/engine", errs.CodeInvalid, errs.WithMessage("scenario required"))
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDebounce
	}
	window := cfg.Window
	if window == 0 {
		window = pace.DefaultWindow
	}

	clk := clock.NewVirtual(cfg.Start)
	st := &runState{clk: clk, start: clk.Now()}

	var (
		ctl controller
		err error
	)
	switch mode {
	case ModeDebounce:
		ctl, err = pace.NewDebouncedFunc[any](st.record, pace.WithClock(clk), pace.WithWindow(window))
	case ModeThrottle:
		ctl, err = pace.NewThrottledFunc[any](st.record, pace.WithClock(clk), pace.WithWindow(window))
	default:
		return nil, errs.New("replay/engine", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown mode %q", mode)))
	}
	if err != nil {
		return nil, fmt.Errorf("build %s controller: %w", mode, err)
	}
	defer ctl.Close()

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := bindGlobals(rt, st, ctl); err != nil {
		return nil, err
	}

	wallStart := time.Now()
	if _, err := rt.RunProgram(scn.program); err != nil {
		return nil, fmt.Errorf("run scenario %q: %w", scn.Name, err)
	}
	recordScenarioDuration(scn.Name, string(mode), time.Since(wallStart))
	if st.encErr != nil {
		return nil, st.encErr
	}

	return &Report{
		Scenario:     scn.Name,
		RunID:        uuid.NewString(),
		Mode:         mode,
		WindowMS:     window.Milliseconds(),
		Inputs:       st.inputs,
		Firings:      st.firings,
		ElapsedMS:    clk.Now().Sub(st.start).Milliseconds(),
		PendingAtEnd: clk.Pending(),
		ScenarioHash: scn.Hash,
	}, nil
}

func bindGlobals(rt *goja.Runtime, st *runState, ctl controller) error {
	if err := rt.Set("input", func(call goja.FunctionCall) goja.Value {
		st.inputs++
		ctl.Call(call.Argument(0).Export())
		return goja.Undefined()
	}); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	if err := rt.Set("advance", func(ms int64) {
		st.clk.Advance(time.Duration(ms) * time.Millisecond)
	}); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	if err := rt.Set("setWindow", func(ms int64) {
		ctl.SetWindow(time.Duration(ms) * time.Millisecond)
	}); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	if err := rt.Set("cancel", func() { ctl.Cancel() }); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	if err := rt.Set("close", func() { ctl.Close() }); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	if err := rt.Set("console", buildConsole(rt)); err != nil {
		return fmt.Errorf("scenario globals: %w", err)
	}
	return nil
}

func buildConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = console.Set("log", noop)
	_ = console.Set("error", noop)
	_ = console.Set("warn", noop)
	_ = console.Set("info", noop)
	return console
}
