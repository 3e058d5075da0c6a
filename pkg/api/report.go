package api

import (
	"time"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/dispatch"
	"github.com/pario-ai/polyglot/pkg/models"
)

// reportView is the wire form of a batch report. Item errors are flattened to
// their kind and message.
type reportView struct {
	ID      string        `json:"id"`
	Items   []itemView    `json:"items"`
	Summary batch.Summary `json:"summary"`
}

type itemView struct {
	Index          int                      `json:"index"`
	Status         batch.Status             `json:"status"`
	SourceLanguage string                   `json:"source_language"`
	TargetLanguage string                   `json:"target_language"`
	Result         *models.ConversionResult `json:"result,omitempty"`
	ErrorKind      string                   `json:"error_kind,omitempty"`
	Error          string                   `json:"error,omitempty"`
}

func newReportView(rep batch.Report) reportView {
	v := reportView{ID: rep.ID, Summary: rep.Summary, Items: make([]itemView, len(rep.Items))}
	v.Summary.Elapsed = v.Summary.Elapsed.Round(time.Millisecond)
	for i, it := range rep.Items {
		iv := itemView{
			Index:          it.Index,
			Status:         it.Status(),
			SourceLanguage: it.Request.SourceLanguage,
			TargetLanguage: it.Request.TargetLanguage,
			Result:         it.Result,
		}
		if it.Err != nil {
			iv.ErrorKind = string(dispatch.KindOf(it.Err))
			iv.Error = it.Err.Error()
		}
		v.Items[i] = iv
	}
	return v
}
