package detection

import "strings"

// Log lines emitted by the target program's create instruction.
var createLogPatterns = []string{
	"Program log: Instruction: Create",
	"Program log: Instruction: create",
}

// LogFilter passes notifications whose logs show a create instruction.
type LogFilter struct {
	metrics *Metrics
}

// NewLogFilter creates a filter counting into metrics, which may be nil.
func NewLogFilter(metrics *Metrics) *LogFilter {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &LogFilter{metrics: metrics}
}

// Match reports whether logs contain a create instruction.
func (f *LogFilter) Match(logs []string) bool {
	f.metrics.received.Add(1)
	for _, line := range logs {
		for _, p := range createLogPatterns {
			if strings.Contains(line, p) {
				f.metrics.passed.Add(1)
				return true
			}
		}
	}
	f.metrics.filtered.Add(1)
	return false
}
