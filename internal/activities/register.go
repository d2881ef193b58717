package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.InspectFileActivity)
	w.RegisterActivity(a.CreateSourceActivity)
	w.RegisterActivity(a.ExtractRecordsActivity)
	w.RegisterActivity(a.CommitSourceActivity)
	w.RegisterActivity(a.FailSourceActivity)
}
