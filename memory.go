package sheetsql

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
)

// Memory limit constants
const (
	maxReasonableMemoryLimit = 64 * 1024 // 64GB
	defaultWarningThreshold  = 0.8
	bytesPerMB               = 1024 * 1024
)

// MemoryLimit guards loads against runaway heap growth. The Loader checks
// it between row batches; a zero limit disables checking.
//
// CheckMemoryUsage calls runtime.ReadMemStats, which can pause for
// milliseconds, so it is only consulted once per batch.
//
// All methods are safe for concurrent use by multiple goroutines.
type MemoryLimit struct {
	maxMemoryMB      int64
	warningThreshold float64
	enabled          atomic.Bool
	readHeapMB       func() int64
}

// NewMemoryLimit creates a limit of maxMemoryMB megabytes of heap.
// maxMemoryMB <= 0 returns a disabled limit.
func NewMemoryLimit(maxMemoryMB int64) *MemoryLimit {
	ml := &MemoryLimit{
		maxMemoryMB:      min(maxMemoryMB, maxReasonableMemoryLimit),
		warningThreshold: defaultWarningThreshold,
		readHeapMB:       heapAllocMB,
	}
	ml.enabled.Store(maxMemoryMB > 0)
	return ml
}

// IsEnabled returns whether memory limits are enabled
func (ml *MemoryLimit) IsEnabled() bool {
	return ml != nil && ml.enabled.Load()
}

// SetWarningThreshold sets the warning threshold (0.0-1.0)
func (ml *MemoryLimit) SetWarningThreshold(threshold float64) {
	if threshold > 0.0 && threshold <= 1.0 {
		ml.warningThreshold = threshold
	}
}

// CheckMemoryUsage checks current memory usage against limits
func (ml *MemoryLimit) CheckMemoryUsage() MemoryStatus {
	if !ml.IsEnabled() {
		return MemoryStatusOK
	}
	current := ml.readHeapMB()
	if current >= ml.maxMemoryMB {
		return MemoryStatusExceeded
	}
	if float64(current)/float64(ml.maxMemoryMB) >= ml.warningThreshold {
		return MemoryStatusWarning
	}
	return MemoryStatusOK
}

// GetMemoryInfo returns current memory usage information
func (ml *MemoryLimit) GetMemoryInfo() MemoryInfo {
	current := heapAllocMB()
	info := MemoryInfo{CurrentMB: current, Status: MemoryStatusOK}
	if ml.IsEnabled() {
		current = ml.readHeapMB()
		info.CurrentMB = current
		info.LimitMB = ml.maxMemoryMB
		info.Usage = float64(current) / float64(ml.maxMemoryMB)
		info.Status = ml.CheckMemoryUsage()
	}
	return info
}

// CreateMemoryError creates a memory limit error with helpful context
func (ml *MemoryLimit) CreateMemoryError(operation string) error {
	info := ml.GetMemoryInfo()
	return fmt.Errorf(
		"%w during %s: using %d MB / %d MB (%.1f%%), consider a larger memory_limit_mb",
		ErrMemoryLimit, operation, info.CurrentMB, info.LimitMB, info.Usage*100,
	)
}

func heapAllocMB() int64 {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	mb := memStats.HeapAlloc / bytesPerMB
	if mb > uint64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(mb)
}

// MemoryStatus represents the current memory status
type MemoryStatus int

const (
	// MemoryStatusOK indicates memory usage is within acceptable limits
	MemoryStatusOK MemoryStatus = iota
	// MemoryStatusWarning indicates memory usage is approaching the limit
	MemoryStatusWarning
	// MemoryStatusExceeded indicates memory usage has exceeded the limit
	MemoryStatusExceeded
)

// String returns string representation of memory status
func (ms MemoryStatus) String() string {
	switch ms {
	case MemoryStatusOK:
		return "OK"
	case MemoryStatusWarning:
		return "WARNING"
	case MemoryStatusExceeded:
		return "EXCEEDED"
	default:
		return "UNKNOWN"
	}
}

// MemoryInfo contains detailed memory usage information
type MemoryInfo struct {
	CurrentMB int64        `json:"current_mb" yaml:"current_mb"`
	LimitMB   int64        `json:"limit_mb" yaml:"limit_mb"`
	Usage     float64      `json:"usage" yaml:"usage"`
	Status    MemoryStatus `json:"status" yaml:"status"`
}
