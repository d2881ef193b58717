package workflows

type TimetableInput struct {
	FileRef string `json:"file_ref"`
}

// TimetableStatus is what GetTimetableStatus reports while a run is in
// flight.
type TimetableStatus struct {
	FileRef     string            `json:"file_ref"`
	SourceID    int64             `json:"source_id,omitempty"`
	MimeType    string            `json:"mime_type,omitempty"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	Records     int               `json:"records"`
	Warnings    int               `json:"warnings"`
	Steps       map[string]string `json:"steps"`
}
