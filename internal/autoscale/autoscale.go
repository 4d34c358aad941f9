// Package autoscale computes the daemon's effective max_parallel from
// resource, budget, queue-depth, and fleet-health caps (§4.12), and steps
// toward that target gradually rather than jumping straight to it.
package autoscale

import (
	"math"
	"runtime"
)

// Inputs bundles everything the scaler consults for one tick.
type Inputs struct {
	LoadAverage1Min    float64
	CPUCores           int // 0 means "use runtime.NumCPU()"
	AvailMemGiB        float64
	WorkerMemGiB       float64
	RemainingBudgetUSD float64
	CostPerJobUSD      float64
	QueueDepth         int
	ActiveJobs         int
	AvgVitalsHealth    float64 // 0-100
	HardMax            int
	MinWorkers         int
	MaxWorkers         int
}

// Caps is the component breakdown behind one computed target, emitted
// verbatim in the daemon.scale event (§6 event schema).
type Caps struct {
	CPU     int
	Memory  int
	Budget  int
	Queue   int
	Vitals  int
	HardMax int
	Target  int
}

// cpuCap applies the load-average brackets from §4.12: 0.75x cores by
// default, reduced to 0.5x above 85% load, to the hard MinWorkers floor
// above 95% load.
func cpuCap(in Inputs) int {
	cores := in.CPUCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	factor := 0.75
	switch {
	case in.LoadAverage1Min >= 0.95*float64(cores):
		factor = 0.0 // caller clamps to MinWorkers below
	case in.LoadAverage1Min >= 0.85*float64(cores):
		factor = 0.5
	case in.LoadAverage1Min >= 0.70*float64(cores):
		factor = 0.75
	}
	return int(math.Floor(float64(cores) * factor))
}

func memoryCap(in Inputs) int {
	if in.WorkerMemGiB <= 0 {
		return math.MaxInt32
	}
	return int(math.Floor(in.AvailMemGiB / in.WorkerMemGiB))
}

func budgetCap(in Inputs) int {
	if in.CostPerJobUSD <= 0 {
		return math.MaxInt32
	}
	return int(math.Floor(in.RemainingBudgetUSD / in.CostPerJobUSD))
}

func queueCap(in Inputs) int {
	return in.QueueDepth + in.ActiveJobs
}

// vitalsCap reduces capacity when the fleet's average health score is
// degraded (<50), scaling max_workers down proportionally.
func vitalsCap(in Inputs) int {
	if in.AvgVitalsHealth >= 50 || in.AvgVitalsHealth <= 0 {
		return math.MaxInt32
	}
	return int(math.Floor(float64(in.MaxWorkers) * in.AvgVitalsHealth / 100))
}

// Compute returns the component caps and their minimum, clamped to
// [MinWorkers, HardMax] (§4.12).
func Compute(in Inputs) Caps {
	c := Caps{
		CPU:     cpuCap(in),
		Memory:  memoryCap(in),
		Budget:  budgetCap(in),
		Queue:   queueCap(in),
		Vitals:  vitalsCap(in),
		HardMax: in.HardMax,
	}
	target := min6(c.CPU, c.Memory, c.Budget, c.Queue, c.Vitals, c.HardMax)
	if target < in.MinWorkers {
		target = in.MinWorkers
	}
	c.Target = target
	return c
}

func min6(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Step moves current toward target by at most one unit per tick, per
// §4.12's adaptive mode ("scale up/down by at most 1 per evaluation").
func Step(current, target int) int {
	switch {
	case target > current:
		return current + 1
	case target < current:
		return current - 1
	default:
		return current
	}
}
