package client

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// GenerateParams describes a generation request.
type GenerateParams struct {
	ProductName    string   `json:"productName"`
	Tagline        string   `json:"tagline"`
	Duration       int      `json:"duration,omitempty"`
	CallToAction   string   `json:"callToAction"`
	LogoURL        string   `json:"logoUrl,omitempty"`
	TargetAudience string   `json:"targetAudience,omitempty"`
	CampaignGoal   string   `json:"campaignGoal,omitempty"`
	BrandColors    []string `json:"brandColors,omitempty"`
}

// AnalyzeParams describes an analysis request.
type AnalyzeParams struct {
	ProductName  string   `json:"productName"`
	BrandName    string   `json:"brandName"`
	Tagline      string   `json:"tagline"`
	ColorPalette []string `json:"colorPalette,omitempty"`
	VideoURL     string   `json:"videoUrl"`
}

// Submission is an accepted job.
type Submission struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobStatus is the current state of a submitted job.
type JobStatus struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// Terminal reports whether the job will not change state again.
func (s JobStatus) Terminal() bool {
	return s.Status == "finished" || s.Status == "failed"
}

// Generate submits a video generation job.
func (c *Client) Generate(ctx context.Context, params GenerateParams) (Submission, error) {
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/generate", params, &out); err != nil {
		return Submission{}, err
	}
	return out, nil
}

// Analyze submits a video analysis job.
func (c *Client) Analyze(ctx context.Context, params AnalyzeParams) (Submission, error) {
	var out Submission
	if err := c.do(ctx, http.MethodPost, "/analyze", params, &out); err != nil {
		return Submission{}, err
	}
	return out, nil
}

// Job fetches the current status of a job.
func (c *Client) Job(ctx context.Context, jobID string) (JobStatus, error) {
	var out JobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &out); err != nil {
		return JobStatus{}, err
	}
	return out, nil
}

// ErrJobFailed reports a job that reached the failed state while
// waiting.
var ErrJobFailed = errors.New("adreel: job failed")

// WaitForJob polls the job until it reaches a terminal state or the
// context expires. A failed job returns the status together with
// ErrJobFailed so the caller can read the recorded error.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Job(ctx, jobID)
		if err != nil {
			return JobStatus{}, err
		}
		if status.Terminal() {
			if status.Status == "failed" {
				return status, ErrJobFailed
			}
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
