package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/adreel/adreel/job"
)

// Generator renders short product ad videos: one image per scene from
// the model backend, a synthesized voiceover, and an ffmpeg stitch.
type Generator struct {
	model     ModelClient
	encoder   Encoder
	publisher *Publisher

	fps        int
	resolution string
	scenes     int
	logger     *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithRender sets the output frame rate and resolution.
func WithRender(fps int, resolution string) GeneratorOption {
	return func(g *Generator) {
		g.fps = fps
		g.resolution = resolution
	}
}

// WithScenes sets how many scenes the ad is cut into.
func WithScenes(n int) GeneratorOption {
	return func(g *Generator) { g.scenes = n }
}

// WithGeneratorLogger sets a custom logger.
func WithGeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator.
func NewGenerator(model ModelClient, encoder Encoder, publisher *Publisher, opts ...GeneratorOption) *Generator {
	g := &Generator{
		model:      model,
		encoder:    encoder,
		publisher:  publisher,
		fps:        24,
		resolution: "1280x720",
		scenes:     6,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Definition returns the typed job binding for the video queue.
func (g *Generator) Definition() job.Definition[GenerateRequest] {
	return job.Definition[GenerateRequest]{
		Name:    "generate",
		Handler: g.Run,
	}
}

// maxVoiceoverSeconds caps the synthesized narration; anything longer
// gets cut off by the video track during the stitch anyway.
const maxVoiceoverSeconds = 15

// Run renders one ad video and returns the presigned result URL.
func (g *Generator) Run(ctx context.Context, j *job.Job, req GenerateRequest) (string, error) {
	req.Normalize()

	ws, err := NewWorkspace(j.ID.String())
	if err != nil {
		return "", err
	}
	defer ws.Close()

	g.logger.Info("generation started",
		slog.String("job_id", j.ID.String()),
		slog.String("product", req.ProductName),
		slog.Int("duration", req.Duration),
	)

	framePaths, err := g.renderScenes(ctx, ws, req)
	if err != nil {
		return "", err
	}

	audioPath := ws.Path("voiceover.mp3")
	if err := g.model.GenerateSpeech(ctx, voiceoverScript(req), audioPath); err != nil {
		return "", stageErr("model", err)
	}

	outPath := ws.Path("ad.mp4")
	if err := g.encoder.Stitch(ctx, framePaths, audioPath, outPath, g.fps, g.resolution); err != nil {
		return "", stageErr("encode", err)
	}

	url, err := g.publisher.Publish(ctx, outPath, j.Principal, ".mp4", "video/mp4")
	if err != nil {
		return "", err
	}

	g.logger.Info("generation finished",
		slog.String("job_id", j.ID.String()),
		slog.String("result_url", url),
	)
	return url, nil
}

// renderScenes asks the model for every scene frame concurrently.
func (g *Generator) renderScenes(ctx context.Context, ws *Workspace, req GenerateRequest) ([]string, error) {
	prompts := scenePrompts(req, g.scenes)
	paths := make([]string, len(prompts))

	eg, ctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		paths[i] = ws.Path(fmt.Sprintf("frame-%03d.png", i))
		outPath := paths[i]
		eg.Go(func() error {
			return g.model.GenerateImage(ctx, prompt, outPath)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, stageErr("model", err)
	}
	return paths, nil
}

// scenePrompts expands the brief into one visual prompt per scene:
// opener, product beats, and a closing call-to-action card.
func scenePrompts(req GenerateRequest, scenes int) []string {
	brief := fmt.Sprintf(
		"Product ad for %q aimed at %s with the goal of %s.",
		req.ProductName, req.TargetAudience, req.CampaignGoal,
	)
	if len(req.BrandColors) > 0 {
		brief += " Brand palette: " + strings.Join(req.BrandColors, ", ") + "."
	}

	prompts := make([]string, 0, scenes)
	prompts = append(prompts, fmt.Sprintf("%s Opening shot introducing the product, tagline %q.", brief, req.Tagline))
	for i := 1; i < scenes-1; i++ {
		prompts = append(prompts, fmt.Sprintf("%s Scene %d of %d showing the product in use.", brief, i+1, scenes))
	}
	if scenes > 1 {
		prompts = append(prompts, fmt.Sprintf("%s Closing card with the call to action %q.", brief, req.CallToAction))
	}
	return prompts
}

// voiceoverScript builds the narration text, bounded so speech synthesis
// stays under the voiceover cap.
func voiceoverScript(req GenerateRequest) string {
	script := fmt.Sprintf("%s. %s. %s.", req.ProductName, req.Tagline, req.CallToAction)
	const maxChars = maxVoiceoverSeconds * 15
	if len(script) > maxChars {
		script = script[:maxChars]
	}
	return script
}
