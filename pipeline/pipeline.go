// Package pipeline implements the two render pipelines behind the API:
// ad video generation and ad video analysis. Each handler works inside
// a scoped temp workspace, publishes its artifact to object storage and
// returns the presigned URL as the job result.
package pipeline

import "fmt"

// StageError ties a pipeline failure to the stage it happened in. The
// stage name becomes the recorded failure kind.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailKind returns the stage name.
func (e *StageError) FailKind() string { return e.Stage }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// GenerateRequest is the payload of a video generation job.
type GenerateRequest struct {
	ProductName    string   `json:"productName" binding:"required,min=2,max=120"`
	Tagline        string   `json:"tagline" binding:"required,min=2,max=160"`
	Duration       int      `json:"duration" binding:"omitempty,gte=4,lte=60"`
	CallToAction   string   `json:"callToAction" binding:"required,min=2,max=120"`
	LogoURL        string   `json:"logoUrl" binding:"omitempty,url"`
	TargetAudience string   `json:"targetAudience" binding:"omitempty,max=200"`
	CampaignGoal   string   `json:"campaignGoal" binding:"omitempty,max=200"`
	BrandColors    []string `json:"brandColors" binding:"omitempty,max=6"`
}

// DefaultDuration applies when the client omits the duration.
const DefaultDuration = 8

// Normalize fills request defaults.
func (r *GenerateRequest) Normalize() {
	if r.Duration == 0 {
		r.Duration = DefaultDuration
	}
	if r.TargetAudience == "" {
		r.TargetAudience = "general consumers"
	}
	if r.CampaignGoal == "" {
		r.CampaignGoal = "brand awareness"
	}
}

// AnalyzeRequest is the payload of a video analysis job.
type AnalyzeRequest struct {
	ProductName  string   `json:"productName" binding:"required,min=2,max=120"`
	BrandName    string   `json:"brandName" binding:"required,min=2,max=120"`
	Tagline      string   `json:"tagline" binding:"required,min=2,max=160"`
	ColorPalette []string `json:"colorPalette" binding:"omitempty,max=6"`
	VideoURL     string   `json:"videoUrl" binding:"required,url"`
}
