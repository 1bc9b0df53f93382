// SPDX-License-Identifier: MIT

package diagnostics

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/fault"
	"github.com/videocatalog/videocatalog/internal/log"
)

const (
	defaultSmokeTimeout = 10 * time.Second
	gpuSmokeTimeout     = 30 * time.Second

	// floatTolerance absorbs platform drift in scores and durations when
	// comparing against goldens.
	floatTolerance = 1e-3

	gateFileName = "orchestrator.gate"
)

// TestFunc produces a JSON-comparable result or an error.
type TestFunc func(ctx context.Context) (any, error)

// SmokeTest is one named functional check. A non-empty Golden path makes the
// harness diff the result against the stored expectation.
type SmokeTest struct {
	Name    string
	Timeout time.Duration
	Golden  string
	Run     TestFunc
}

// Result is one executed smoke test.
type Result struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Diff       string `json:"diff,omitempty"`
}

// Summary is the outcome of a full smoke run.
type Summary struct {
	RunUTC  string   `json:"run_utc"`
	Dir     string   `json:"dir"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	GateSet bool     `json:"gate_set"`
	Results []Result `json:"results"`
}

// Harness runs smoke tests sequentially and persists summary.md plus
// junit.xml under exports/testruns/<timestamp>/.
type Harness struct {
	paths    config.Paths
	cfg      config.DiagnosticsConfig
	tests    []SmokeTest
	logger   zerolog.Logger
	now      func() time.Time
	setsGate bool
}

func NewHarness(cfg config.Config) *Harness {
	return &Harness{
		paths:    cfg.Paths,
		cfg:      cfg.Diagnostics,
		logger:   log.WithComponent("diagnostics"),
		now:      func() time.Time { return time.Now().UTC() },
		setsGate: true,
	}
}

// Add registers a test. Registration order is execution order.
func (h *Harness) Add(t SmokeTest) {
	h.tests = append(h.tests, t)
}

// GateFile is the path the orchestrator checks before leasing work.
func (h *Harness) GateFile() string {
	return filepath.Join(h.paths.DataDir(), gateFileName)
}

// ClearGate removes the orchestrator gate file.
func (h *Harness) ClearGate() error {
	err := os.Remove(h.GateFile())
	if err != nil && !os.IsNotExist(err) {
		return fault.Wrap(fault.Internal, "clear diagnostics gate", err)
	}
	return nil
}

// GateSet reports whether a failed run has gated the orchestrator.
func (h *Harness) GateSet() bool {
	_, err := os.Stat(h.GateFile())
	return err == nil
}

// Run executes every registered test. Any failure sets the orchestrator gate
// file; a fully green run clears it.
func (h *Harness) Run(ctx context.Context) (*Summary, error) {
	started := h.now()
	runDir := filepath.Join(h.paths.ExportsDir(), "testruns", started.Format("20060102T150405Z"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fault.Wrap(fault.Internal, "create testrun dir", err)
	}

	summary := &Summary{RunUTC: db.FormatUTC(started), Dir: runDir}
	for _, test := range h.tests {
		res := h.runOne(ctx, test)
		summary.Results = append(summary.Results, res)
		if res.OK {
			summary.Passed++
		} else {
			summary.Failed++
		}
		evt := h.logger.Info()
		if !res.OK {
			evt = h.logger.Warn().Str("error", res.Error)
		}
		evt.Str("test", res.Name).Int64("duration_ms", res.DurationMS).Msg("smoke test finished")
	}

	if h.setsGate {
		if summary.Failed > 0 {
			if err := renameio.WriteFile(h.GateFile(), []byte(summary.RunUTC+"\n"), 0o644); err != nil {
				return nil, fault.Wrap(fault.Internal, "set diagnostics gate", err)
			}
			summary.GateSet = true
		} else if err := h.ClearGate(); err != nil {
			return nil, err
		}
	}

	if err := h.writeSummary(runDir, summary); err != nil {
		return nil, err
	}
	if err := h.writeJUnit(runDir, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

func (h *Harness) runOne(ctx context.Context, test SmokeTest) Result {
	timeout := test.Timeout
	if t, ok := h.cfg.SmokeTimeouts[test.Name]; ok {
		timeout = t
	}
	if timeout <= 0 {
		timeout = defaultSmokeTimeout
		if strings.Contains(test.Name, "gpu") {
			timeout = gpuSmokeTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	got, err := test.Run(ctx)
	res := Result{Name: test.Name, DurationMS: time.Since(started).Milliseconds()}
	if err != nil {
		res.Error = fault.MessageOf(err)
		return res
	}
	if test.Golden != "" {
		diff, derr := h.diffGolden(test.Golden, got)
		if derr != nil {
			res.Error = fault.MessageOf(derr)
			return res
		}
		if diff != "" {
			res.Error = "result differs from golden"
			res.Diff = diff
			return res
		}
	}
	res.OK = true
	return res
}

// diffGolden compares a result against its stored expectation after a JSON
// round-trip, so struct results and golden documents share one shape.
// Numeric fields compare with a small tolerance.
func (h *Harness) diffGolden(goldenPath string, got any) (string, error) {
	raw, err := os.ReadFile(goldenPath)
	if err != nil {
		return "", fault.Wrap(fault.Internal, "read golden "+filepath.Base(goldenPath), err)
	}
	var want any
	if err := json.Unmarshal(raw, &want); err != nil {
		return "", fault.Wrap(fault.Internal, "decode golden "+filepath.Base(goldenPath), err)
	}
	normalized, err := normalizeJSON(got)
	if err != nil {
		return "", err
	}
	return cmp.Diff(want, normalized, cmpopts.EquateApprox(0, floatTolerance)), nil
}

func normalizeJSON(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "encode smoke result", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fault.Wrap(fault.Internal, "normalize smoke result", err)
	}
	return out, nil
}

func (h *Harness) writeSummary(dir string, s *Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Smoke run %s\n\n", s.RunUTC)
	fmt.Fprintf(&b, "%d passed, %d failed\n\n", s.Passed, s.Failed)
	if s.GateSet {
		b.WriteString("Orchestrator gate is SET: background jobs are paused until the failures are resolved and the gate is cleared.\n\n")
	}
	b.WriteString("| Test | Result | Duration |\n|---|---|---|\n")
	for _, r := range s.Results {
		state := "pass"
		if !r.OK {
			state = "FAIL"
		}
		fmt.Fprintf(&b, "| %s | %s | %d ms |\n", r.Name, state, r.DurationMS)
	}
	for _, r := range s.Results {
		if r.OK {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", r.Name, r.Error)
		if r.Diff != "" {
			fmt.Fprintf(&b, "\n```\n%s```\n", r.Diff)
		}
	}
	if err := renameio.WriteFile(filepath.Join(dir, "summary.md"), []byte(b.String()), 0o644); err != nil {
		return fault.Wrap(fault.Internal, "write summary.md", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fault.Wrap(fault.Internal, "encode summary", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, "summary.json"), raw, 0o644); err != nil {
		return fault.Wrap(fault.Internal, "write summary.json", err)
	}
	return nil
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

type junitCase struct {
	Name    string        `xml:"name,attr"`
	Time    string        `xml:"time,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
}

type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Time     string      `xml:"timestamp,attr"`
	Cases    []junitCase `xml:"testcase"`
}

func (h *Harness) writeJUnit(dir string, s *Summary) error {
	suite := junitSuite{
		Name:     "videocatalog.smoke",
		Tests:    len(s.Results),
		Failures: s.Failed,
		Time:     s.RunUTC,
	}
	for _, r := range s.Results {
		c := junitCase{Name: r.Name, Time: fmt.Sprintf("%.3f", float64(r.DurationMS)/1000)}
		if !r.OK {
			c.Failure = &junitFailure{Message: r.Error, Body: r.Diff}
		}
		suite.Cases = append(suite.Cases, c)
	}
	raw, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fault.Wrap(fault.Internal, "encode junit report", err)
	}
	raw = append([]byte(xml.Header), raw...)
	if err := renameio.WriteFile(filepath.Join(dir, "junit.xml"), raw, 0o644); err != nil {
		return fault.Wrap(fault.Internal, "write junit.xml", err)
	}
	return nil
}

// RunInfo is one archived test run for the reports listing.
type RunInfo struct {
	Timestamp string `json:"timestamp"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
}

// ListRuns enumerates archived runs, newest first.
func ListRuns(paths config.Paths) ([]RunInfo, error) {
	root := filepath.Join(paths.ExportsDir(), "testruns")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.Internal, "list test runs", err)
	}
	var runs []RunInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info := RunInfo{Timestamp: e.Name()}
		if raw, err := os.ReadFile(filepath.Join(root, e.Name(), "summary.json")); err == nil {
			var s Summary
			if json.Unmarshal(raw, &s) == nil {
				info.Passed, info.Failed = s.Passed, s.Failed
			}
		}
		runs = append(runs, info)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp > runs[j].Timestamp })
	return runs, nil
}

// RunFile resolves one artifact inside an archived run, rejecting path
// escapes.
func RunFile(paths config.Paths, timestamp, name string) (string, error) {
	if !validRunComponent(timestamp) || !validRunComponent(name) {
		return "", fault.New(fault.Validation, "invalid report reference")
	}
	path := filepath.Join(paths.ExportsDir(), "testruns", timestamp, name)
	if _, err := os.Stat(path); err != nil {
		return "", fault.Newf(fault.NotFound, "report %s/%s not found", timestamp, name)
	}
	return path, nil
}

// validRunComponent accepts a single path element: no separators and no
// relative references.
func validRunComponent(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}
