package usecase

import (
	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

// ResultFanout forwards result notifications to every non-nil sink in order.
type ResultFanout []ports.ResultSink

func NewResultFanout(sinks ...ports.ResultSink) ResultFanout {
	out := make(ResultFanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (f ResultFanout) BatchStarted(batchID domain.ID) {
	for _, s := range f {
		s.BatchStarted(batchID)
	}
}

func (f ResultFanout) Result(result domain.FileResult) {
	for _, s := range f {
		s.Result(result)
	}
}

func (f ResultFanout) BatchFinished(session domain.BatchSession) {
	for _, s := range f {
		s.BatchFinished(session)
	}
}
