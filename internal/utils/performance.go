package utils

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepTiming holds timing information for a single step
type StepTiming struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration
	SubSteps  []*StepTiming
	parent    *StepTiming
}

// StepAggregate holds aggregate timing information for a step
type StepAggregate struct {
	Count    int
	Total    time.Duration
	Average  time.Duration
	Min      time.Duration
	Max      time.Duration
	StepName string
}

// PerformanceTracker times nested startup phases with StartStep/EndStep and
// collects concurrent observations (refresh fetches, batches) with Observe.
// All methods are safe for concurrent use.
type PerformanceTracker struct {
	mu          sync.Mutex
	currentStep *StepTiming
	steps       []*StepTiming
	aggregates  map[string]*StepAggregate
	now         func() time.Time
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		aggregates: make(map[string]*StepAggregate),
		now:        time.Now,
	}
}

// StartStep begins timing a new step, nested under the current one if any.
func (pt *PerformanceTracker) StartStep(name string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	step := &StepTiming{
		Name:      name,
		StartTime: pt.now(),
		parent:    pt.currentStep,
	}

	if pt.currentStep != nil {
		pt.currentStep.SubSteps = append(pt.currentStep.SubSteps, step)
	} else {
		pt.steps = append(pt.steps, step)
	}
	pt.currentStep = step
}

// EndStep completes timing for the current step
func (pt *PerformanceTracker) EndStep() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	step := pt.currentStep
	if step == nil {
		return
	}
	step.Duration = pt.now().Sub(step.StartTime)
	pt.observeLocked(step.Name, step.Duration)
	pt.currentStep = step.parent
}

// Observe records a duration measured elsewhere.
func (pt *PerformanceTracker) Observe(name string, d time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.observeLocked(name, d)
}

// Track returns a func that observes the time elapsed since Track was called.
//
//	defer tracker.Track("fetch")()
func (pt *PerformanceTracker) Track(name string) func() {
	pt.mu.Lock()
	start := pt.now()
	pt.mu.Unlock()
	return func() {
		pt.mu.Lock()
		defer pt.mu.Unlock()
		pt.observeLocked(name, pt.now().Sub(start))
	}
}

func (pt *PerformanceTracker) observeLocked(name string, d time.Duration) {
	agg, exists := pt.aggregates[name]
	if !exists {
		agg = &StepAggregate{StepName: name, Min: d, Max: d}
		pt.aggregates[name] = agg
	}

	agg.Count++
	agg.Total += d
	agg.Average = agg.Total / time.Duration(agg.Count)

	if d < agg.Min {
		agg.Min = d
	}
	if d > agg.Max {
		agg.Max = d
	}
}

// Aggregate returns a copy of the aggregate for name.
func (pt *PerformanceTracker) Aggregate(name string) (StepAggregate, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	agg, ok := pt.aggregates[name]
	if !ok {
		return StepAggregate{}, false
	}
	return *agg, true
}

// GenerateReport renders the step tree.
func (pt *PerformanceTracker) GenerateReport() string {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\n=== Performance Report ===\n")
	for _, step := range pt.steps {
		writeStepReport(&sb, step, 0)
	}
	return sb.String()
}

func writeStepReport(sb *strings.Builder, step *StepTiming, level int) {
	indent := strings.Repeat("  ", level)
	fmt.Fprintf(sb, "%s%s: %v\n", indent, step.Name, step.Duration.Round(time.Millisecond))

	for _, subStep := range step.SubSteps {
		writeStepReport(sb, subStep, level+1)
	}
}

// GenerateAggregateReport lists every step and observation by total time.
func (pt *PerformanceTracker) GenerateAggregateReport() string {
	pt.mu.Lock()
	steps := make([]StepAggregate, 0, len(pt.aggregates))
	for _, agg := range pt.aggregates {
		steps = append(steps, *agg)
	}
	pt.mu.Unlock()

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Total != steps[j].Total {
			return steps[i].Total > steps[j].Total
		}
		return steps[i].StepName < steps[j].StepName
	})

	var sb strings.Builder
	sb.WriteString("\n=== Aggregate Performance Report ===\n")
	for _, agg := range steps {
		fmt.Fprintf(&sb,
			"Step: %s\n"+
				"  Count:   %d\n"+
				"  Total:   %v\n"+
				"  Average: %v\n"+
				"  Min:     %v\n"+
				"  Max:     %v\n",
			agg.StepName,
			agg.Count,
			agg.Total.Round(time.Millisecond),
			agg.Average.Round(time.Millisecond),
			agg.Min.Round(time.Millisecond),
			agg.Max.Round(time.Millisecond),
		)
	}
	return sb.String()
}
