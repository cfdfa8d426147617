package types

import "time"

// Case is one archived run reduced to the facts similarity retrieval
// needs. Append-only; never mutated after write.
type Case struct {
	// ID is the case identifier (the originating run id).
	ID string `json:"id"`
	// ProjectID is the owning project.
	ProjectID string `json:"project_id"`
	// Fingerprint is the normalized keyword set of the request,
	// space-joined in sorted order.
	Fingerprint string `json:"fingerprint"`
	// Decisions records the stage decisions taken, in order
	// (e.g. "retry:2", "deploy").
	Decisions []string `json:"decisions,omitempty"`
	// FinalScore is the quality score of the best version, -1 if none.
	FinalScore int `json:"final_score"`
	// Success is true if the run succeeded.
	Success bool `json:"success"`
	// Iterations is the number of develop→evaluate loops taken.
	Iterations int `json:"iterations"`
	// RecordedAt is when the case was archived.
	RecordedAt time.Time `json:"recorded_at"`
}
