package models

// ItemResult is the backend's answer for one shot of a batch submission.
type ItemResult struct {
	ShotID    string `json:"shotId"`
	VersionID string `json:"versionId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is returned by the generate-all endpoints.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Items     []ItemResult  `json:"items,omitempty"`
	Versions  []ShotVersion `json:"versions,omitempty"`
}

// FailedItems maps shot id to error for every item the backend rejected.
func (r *BatchResult) FailedItems() map[string]string {
	out := make(map[string]string)
	for _, it := range r.Items {
		if it.Error != "" {
			out[it.ShotID] = it.Error
		}
	}
	return out
}

// ShotResult is returned by single-shot generation. NextVersion is set when a
// new end frame was propagated to the following shot's inherited start frame.
type ShotResult struct {
	Version     ShotVersion  `json:"version"`
	NextVersion *ShotVersion `json:"nextVersion,omitempty"`
}
