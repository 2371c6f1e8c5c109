// Package synth hands admitted jobs to the lip-sync video synthesis worker.
//
// Dispatch only waits for the worker to accept a job. The finished video, or
// the failure, arrives later through a ResultFunc callback.
package synth

import (
	"context"
)

// Job is what the worker needs to render one video.
type Job struct {
	ID         string `json:"id"`
	AccountID  string `json:"account_id"`
	Prompt     string `json:"prompt"`
	Resolution string `json:"resolution"`
	FrameCount int    `json:"frame_count"`
	AudioRef   string `json:"audio_ref"`
	ImageRef   string `json:"image_ref"`
}

// Outcome is the worker's final word on a job.
type Outcome struct {
	Success     bool   `json:"success"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// ResultFunc receives worker outcomes.
type ResultFunc func(ctx context.Context, jobID string, outcome Outcome) error

// Dispatcher submits jobs to a worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
