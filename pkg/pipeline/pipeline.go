package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/timeline"
)

// RunResult pairs a test identifier with its reconstructed timeline, or
// the reason reconstruction failed.
type RunResult struct {
	TestID   string             `json:"testId"`
	Timeline *timeline.RunState `json:"timeline,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// HostInfo describes the machine the report was generated on.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion"`
	KernelVersion   string `json:"kernelVersion"`
	Arch            string `json:"arch"`
	CPUModel        string `json:"cpuModel"`
	CPUCores        int    `json:"cpuCores"`
	MemoryTotal     uint64 `json:"memoryTotal"`
}

// Report is the full output document for one result bundle.
type Report struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	DurationMS  int64       `json:"durationMs"`
	Host        *HostInfo   `json:"host,omitempty"`
	Runs        []RunResult `json:"runs"`
}

// Pipeline reconstructs every test run in a bundle using a bounded
// worker pool.
type Pipeline struct {
	log         logrus.FieldLogger
	src         source.Source
	engine      *Engine
	concurrency int
}

// NewPipeline creates a pipeline over src. concurrency bounds the
// number of runs reconstructed in parallel; values below one fall back
// to GOMAXPROCS.
func NewPipeline(
	log logrus.FieldLogger, src source.Source, engine *Engine, concurrency int,
) *Pipeline {
	if concurrency < 1 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	return &Pipeline{
		log:         log.WithField("component", "pipeline"),
		src:         src,
		engine:      engine,
		concurrency: concurrency,
	}
}

// Run reconstructs the timelines of every test in the bundle and
// returns the assembled report. Individual run failures are recorded in
// the report rather than aborting the batch; only cancellation or an
// unreadable test list is returned as an error.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	started := time.Now()

	testIDs, err := p.src.TestIdentifiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"tests":       len(testIDs),
		"concurrency": p.concurrency,
	}).Info("Reconstructing run timelines")

	var (
		mu      sync.Mutex
		results = make([]RunResult, 0, len(testIDs))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, testID := range testIDs {
		testID := testID

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			result := RunResult{TestID: testID}

			state, err := p.engine.BuildRun(gCtx, testID)
			if err != nil {
				p.log.WithError(err).WithField("test_id", testID).
					Warn("Run reconstruction failed")

				result.Error = err.Error()
			} else {
				result.Timeline = state
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].TestID < results[j].TestID
	})

	report := &Report{
		GeneratedAt: started.UTC(),
		DurationMS:  time.Since(started).Milliseconds(),
		Host:        collectHostInfo(ctx, p.log),
		Runs:        results,
	}

	return report, nil
}

// collectHostInfo gathers best-effort machine metadata for the report
// header. Any probe failure just leaves fields empty.
func collectHostInfo(ctx context.Context, log logrus.FieldLogger) *HostInfo {
	info := &HostInfo{Arch: runtime.GOARCH}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.PlatformVersion = hi.PlatformVersion
		info.KernelVersion = hi.KernelVersion
	} else {
		log.WithError(err).Debug("Failed to probe host info")
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
		info.CPUCores = len(cpus)
	} else if err != nil {
		log.WithError(err).Debug("Failed to probe CPU info")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotal = vm.Total
	} else {
		log.WithError(err).Debug("Failed to probe memory info")
	}

	return info
}
