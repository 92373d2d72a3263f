package engine

import (
	"expvar"
	"fmt"
	"time"
)

// latencyBuckets defines the buckets for latency histograms (in seconds).
var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0}

func addInt(m *expvar.Map, name string) {
	if v, ok := m.Get(name).(*expvar.Int); ok {
		v.Add(1)
	}
}

// observeLatency records the duration in the provided histogram map.
func observeLatency(histMap *expvar.Map, durationSeconds float64) {
	if histMap == nil {
		return
	}
	addInt(histMap, "count")
	if sum, ok := histMap.Get("sum").(*expvar.Float); ok {
		sum.Add(durationSeconds)
	}
	// Cumulative: an observation counts in every bucket at or above it.
	for _, b := range latencyBuckets {
		if durationSeconds <= b {
			addInt(histMap, fmt.Sprintf("le_%.3f", b))
		}
	}
	addInt(histMap, "le_inf")
}

func observeSince(histMap *expvar.Map, start, now time.Time) float64 {
	d := now.Sub(start).Seconds()
	observeLatency(histMap, d)
	return d
}

// incr tolerates nil counters so callers can pass partially built metrics.
func incr(v *expvar.Int, n int64) {
	if v != nil {
		v.Add(n)
	}
}

// publishExpvarInt returns the global Int called name, creating it or
// resetting an existing one. A name held by another type panics.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0.0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

// publishExpvarFunc publishes f unless name is already taken; expvar.Publish
// panics on reuse.
func publishExpvarFunc(name string, f func() interface{}) {
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}

// publishExpvarMap returns the global Map called name. NewEngineMetrics
// resets its sub-metrics.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
