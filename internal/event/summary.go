package event

// BatchSummary reports the outcome of one worker batch.
type BatchSummary struct {
	Run           int64 `json:"run"`
	Attempted     int   `json:"attempted"`
	Succeeded     int   `json:"succeeded"`
	Failed        int   `json:"failed"`
	BacklogBefore int   `json:"backlog_before"`
	BacklogAfter  int   `json:"backlog_after"`
	DurationMs    int64 `json:"duration_ms"`
}
