package runner

import (
	"github.com/torosent/pipebench/internal/metrics"
)

// FailureLogger logs failed executions.
type FailureLogger interface {
	LogFailure(err error)
}

// Options configure a Pipeline or Parallel run.
type Options struct {
	Count      int               // total executions N (0 resolves immediately)
	Pipelining int               // outstanding executions P; Parallel uses it as the flush batch size
	Recorder   *metrics.Recorder // latency of successful executions (created if nil)
	Logger     FailureLogger     // optional
}

func (o *Options) normalize() {
	if o.Count < 0 {
		o.Count = 0
	}
	if o.Pipelining <= 0 {
		o.Pipelining = 1
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NewRecorder(metrics.DefaultRecorderConfig())
	}
}

func (o *Options) logFailure(err error) {
	if o.Logger != nil {
		o.Logger.LogFailure(err)
	}
}
