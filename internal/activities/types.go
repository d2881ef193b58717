package activities

import "timetable/internal/models"

type InspectFileInput struct {
	FileRef string `json:"file_ref"`
}

type InspectFileOutput struct {
	MimeType string `json:"mime_type"`
}

type CreateSourceInput struct {
	FileRef string `json:"file_ref"`
}

type CreateSourceOutput struct {
	SourceID int64 `json:"source_id"`
}

type ExtractRecordsInput struct {
	SourceID int64  `json:"source_id"`
	FileRef  string `json:"file_ref"`
	MimeType string `json:"mime_type"`
}

type ExtractRecordsOutput struct {
	Pages      int                      `json:"pages"`
	Regions    int                      `json:"regions"`
	Metadata   *models.DocumentMetadata `json:"metadata,omitempty"`
	Records    []models.ActivityRecord  `json:"records"`
	Confidence []float64                `json:"confidence,omitempty"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

type CommitSourceInput struct {
	SourceID int64                   `json:"source_id"`
	Records  []models.ActivityRecord `json:"records"`
	Warnings int                     `json:"warnings"`
}

type CommitSourceOutput struct {
	Records []models.ActivityRecord `json:"records"`
}

type FailSourceInput struct {
	SourceID int64  `json:"source_id"`
	Reason   string `json:"reason"`
}
