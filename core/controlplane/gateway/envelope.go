package gateway

import (
	"github.com/cordum/cjcard/core/analysis/pipeline"
	"github.com/cordum/cjcard/core/analysis/report"
)

// Envelope is the response body of every analyze call. Absent fields are
// serialized as null.
type Envelope struct {
	Success bool                   `json:"success"`
	Message *string                `json:"message"`
	Data    *report.AnalysisResult `json:"data"`
	Error   *string                `json:"error"`
	Code    string                 `json:"code,omitempty"`
}

// NewEnvelope wraps a pipeline outcome. A non-nil err wins over res.
func NewEnvelope(res *report.AnalysisResult, err error) Envelope {
	if err != nil {
		msg := err.Error()
		return Envelope{Error: &msg, Code: string(pipeline.KindOf(err))}
	}
	msg := successMessage
	return Envelope{Success: true, Message: &msg, Data: res}
}
