package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeErrDetail(w, code, err, "", 0)
}

// writeErrDetail adds the raw diagnostic text of a failed run and the
// source it left behind, when there is one.
func writeErrDetail(w http.ResponseWriter, code int, err error, diagnostics string, sourceID int64) {
	apiErr := toAPIError(code, err)
	body := map[string]any{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	}
	if diagnostics != "" {
		body["diagnostics"] = diagnostics
	}
	if sourceID > 0 {
		body["source_id"] = sourceID
	}
	writeJSON(w, code, map[string]any{"error": body})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "TT-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusGatewayTimeout:
		return apiError{Code: "TT-RUN-5040", Message: "Processing did not finish in time. The source was marked failed."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "no such table"), strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "TT-DB-5001", Message: "Database schema is not initialized. Restart the service to migrate."}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "TT-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "TT-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "TT-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "TT-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusMethodNotAllowed:
		code = "TT-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusRequestEntityTooLarge:
		code = "TT-API-4013"
		msg = "The uploaded file is too large."
	case status == http.StatusUnsupportedMediaType:
		code = "TT-API-4015"
		msg = "Only images, PDF and DOCX files are accepted."
	case status == http.StatusUnprocessableEntity:
		code = "TT-RUN-4022"
		msg = "The document could not be processed."
	}

	// 4xx messages keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "exactly one file"):
			msg = "Upload exactly one file in the \"file\" field."
		case strings.Contains(raw, "invalid source id"):
			msg = "Source id must be a positive integer."
		case strings.Contains(raw, "corrupt input"):
			msg = "The file is damaged or not what its type claims."
		case strings.Contains(raw, "invalid slot"), strings.Contains(raw, "invalid start"), strings.Contains(raw, "invalid end"),
			strings.Contains(raw, "invalid day"), strings.Contains(raw, "slot granularity"), strings.Contains(raw, "day window"):
			msg = "Invalid calendar parameters."
		}
	}

	return apiError{Code: code, Message: msg}
}
