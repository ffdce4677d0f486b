package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/adreel/adreel/job"
)

// Analyzer critiques an existing ad video: the source is downloaded,
// sampled into stills, reviewed by the model, and the written report is
// published as the job result.
type Analyzer struct {
	model     ModelClient
	encoder   Encoder
	publisher *Publisher

	maxFrames int
	client    *http.Client
	logger    *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithMaxFrames bounds how many stills are sampled from the video.
func WithMaxFrames(n int) AnalyzerOption {
	return func(a *Analyzer) { a.maxFrames = n }
}

// WithAnalyzerLogger sets a custom logger.
func WithAnalyzerLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) { a.logger = l }
}

// WithHTTPClient sets the client used to download source videos.
func WithHTTPClient(c *http.Client) AnalyzerOption {
	return func(a *Analyzer) { a.client = c }
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(model ModelClient, encoder Encoder, publisher *Publisher, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		model:     model,
		encoder:   encoder,
		publisher: publisher,
		maxFrames: 6,
		client:    &http.Client{Timeout: 2 * time.Minute},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Definition returns the typed job binding for the analysis queue.
func (a *Analyzer) Definition() job.Definition[AnalyzeRequest] {
	return job.Definition[AnalyzeRequest]{
		Name:    "analyze",
		Handler: a.Run,
	}
}

// Run critiques one video and returns the presigned report URL.
func (a *Analyzer) Run(ctx context.Context, j *job.Job, req AnalyzeRequest) (string, error) {
	ws, err := NewWorkspace(j.ID.String())
	if err != nil {
		return "", err
	}
	defer ws.Close()

	a.logger.Info("analysis started",
		slog.String("job_id", j.ID.String()),
		slog.String("product", req.ProductName),
		slog.String("video_url", req.VideoURL),
	)

	videoPath := ws.Path("source.mp4")
	if err := a.download(ctx, req.VideoURL, videoPath); err != nil {
		return "", stageErr("download", err)
	}

	frames, err := a.encoder.ExtractFrames(ctx, videoPath, ws.Dir(), a.maxFrames)
	if err != nil {
		return "", stageErr("encode", err)
	}
	if len(frames) == 0 {
		return "", stageErr("encode", fmt.Errorf("no frames extracted from %s", req.VideoURL))
	}

	report, err := a.model.Critique(ctx, critiquePrompt(req), frames)
	if err != nil {
		return "", stageErr("model", err)
	}

	reportPath := ws.Path("report.txt")
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return "", err
	}

	url, err := a.publisher.Publish(ctx, reportPath, j.Principal, ".txt", "text/plain; charset=utf-8")
	if err != nil {
		return "", err
	}

	a.logger.Info("analysis finished",
		slog.String("job_id", j.ID.String()),
		slog.String("result_url", url),
	)
	return url, nil
}

func (a *Analyzer) download(ctx context.Context, url, outPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Sync()
}

// critiquePrompt frames the review around the brand brief.
func critiquePrompt(req AnalyzeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing an ad video for %q by %s.\n", req.ProductName, req.BrandName)
	fmt.Fprintf(&b, "The intended tagline is %q.\n", req.Tagline)
	if len(req.ColorPalette) > 0 {
		fmt.Fprintf(&b, "The brand palette is %s.\n", strings.Join(req.ColorPalette, ", "))
	}
	b.WriteString("Assess visual quality, message clarity, brand consistency and pacing, ")
	b.WriteString("then give concrete suggestions for improvement.")
	return b.String()
}
