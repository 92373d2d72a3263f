package engine

import (
	"expvar"
	"fmt"
)

// EngineMetrics holds all expvar variables for a Store.
type EngineMetrics struct {
	PublishedGlobally bool // Indicates if the metrics are published to the global expvar namespace.

	PutTotal          *expvar.Int
	PutErrorsTotal    *expvar.Int
	GetTotal          *expvar.Int
	GetErrorsTotal    *expvar.Int
	GetMissesTotal    *expvar.Int
	DeleteTotal       *expvar.Int
	DeleteErrorsTotal *expvar.Int
	FoldTotal         *expvar.Int
	FoldErrorsTotal   *expvar.Int

	RotationsTotal        *expvar.Int
	LogFilesCreatedTotal  *expvar.Int
	BytesWrittenTotal     *expvar.Int
	VanishedRetriesTotal  *expvar.Int
	ReadFilesOpenedTotal  *expvar.Int
	ReadFilesEvictedTotal *expvar.Int

	WarmupFilesTotal      *expvar.Int
	WarmupKeysTotal       *expvar.Int
	WarmupDurationSeconds *expvar.Float

	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	PutLatencyHist    *expvar.Map
	GetLatencyHist    *expvar.Map
	DeleteLatencyHist *expvar.Map
	FoldLatencyHist   *expvar.Map

	keyDirKeysFunc func() interface{}
}

// NewEngineMetrics creates and initializes a new EngineMetrics struct with expvar variables.
func NewEngineMetrics(publishGlobally bool, prefix string) *EngineMetrics {
	var newIntFunc func(string) *expvar.Int
	var newFloatFunc func(string) *expvar.Float
	var newMapFunc func(string) *expvar.Map

	if publishGlobally {
		newIntFunc = publishExpvarInt
		newFloatFunc = publishExpvarFloat
		newMapFunc = publishExpvarMap
	} else {
		newIntFunc = func(_ string) *expvar.Int { return new(expvar.Int) }
		newFloatFunc = func(_ string) *expvar.Float { return new(expvar.Float) }
		newMapFunc = func(_ string) *expvar.Map {
			m := new(expvar.Map)
			m.Init()
			return m
		}
	}

	em := &EngineMetrics{
		PublishedGlobally: publishGlobally,
		PutTotal:          newIntFunc(prefix + "put_total"),
		PutErrorsTotal:    newIntFunc(prefix + "put_errors_total"),
		GetTotal:          newIntFunc(prefix + "get_total"),
		GetErrorsTotal:    newIntFunc(prefix + "get_errors_total"),
		GetMissesTotal:    newIntFunc(prefix + "get_misses_total"),
		DeleteTotal:       newIntFunc(prefix + "delete_total"),
		DeleteErrorsTotal: newIntFunc(prefix + "delete_errors_total"),
		FoldTotal:         newIntFunc(prefix + "fold_total"),
		FoldErrorsTotal:   newIntFunc(prefix + "fold_errors_total"),

		RotationsTotal:        newIntFunc(prefix + "rotations_total"),
		LogFilesCreatedTotal:  newIntFunc(prefix + "log_files_created_total"),
		BytesWrittenTotal:     newIntFunc(prefix + "bytes_written_total"),
		VanishedRetriesTotal:  newIntFunc(prefix + "vanished_file_retries_total"),
		ReadFilesOpenedTotal:  newIntFunc(prefix + "read_files_opened_total"),
		ReadFilesEvictedTotal: newIntFunc(prefix + "read_files_evicted_total"),

		WarmupFilesTotal:      newIntFunc(prefix + "warmup_files_total"),
		WarmupKeysTotal:       newIntFunc(prefix + "warmup_keys_total"),
		WarmupDurationSeconds: newFloatFunc(prefix + "warmup_duration_seconds"),

		CacheHits:   newIntFunc(prefix + "read_cache_hits"),
		CacheMisses: newIntFunc(prefix + "read_cache_misses"),

		PutLatencyHist:    newMapFunc(prefix + "put_latency_seconds"),
		GetLatencyHist:    newMapFunc(prefix + "get_latency_seconds"),
		DeleteLatencyHist: newMapFunc(prefix + "delete_latency_seconds"),
		FoldLatencyHist:   newMapFunc(prefix + "fold_latency_seconds"),
	}

	histMaps := []*expvar.Map{em.PutLatencyHist, em.GetLatencyHist, em.DeleteLatencyHist, em.FoldLatencyHist}
	for _, m := range histMaps {
		m.Set("count", new(expvar.Int))
		m.Set("sum", new(expvar.Float))
		for _, b := range latencyBuckets {
			m.Set(fmt.Sprintf("le_%.3f", b), new(expvar.Int))
		}
		m.Set("le_inf", new(expvar.Int))
	}
	return em
}

// publishKeyDirKeys exposes the live key count of a store under name. The
// first store to publish a name owns it for the life of the process.
func (em *EngineMetrics) publishKeyDirKeys(name string, f func() interface{}) {
	em.keyDirKeysFunc = f
	if em.PublishedGlobally {
		publishExpvarFunc(name, f)
	}
}

func (em *EngineMetrics) GetKeyDirKeys() (int, error) {
	if em.keyDirKeysFunc == nil {
		return 0, fmt.Errorf("keyDirKeysFunc not initialized")
	}
	val := em.keyDirKeysFunc()
	if count, ok := val.(int); ok {
		return count, nil
	}
	return 0, fmt.Errorf("keyDirKeysFunc did not return int, got %T", val)
}
