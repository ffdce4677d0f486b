package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/adreel/adreel/job"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubModel struct {
	mu       sync.Mutex
	prompts  []string
	script   string
	critique string
	imageErr error
}

func (m *stubModel) GenerateImage(_ context.Context, prompt, outPath string) error {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.imageErr != nil {
		return m.imageErr
	}
	return os.WriteFile(outPath, []byte("png"), 0o644)
}

func (m *stubModel) GenerateSpeech(_ context.Context, script, outPath string) error {
	m.mu.Lock()
	m.script = script
	m.mu.Unlock()
	return os.WriteFile(outPath, []byte("mp3"), 0o644)
}

func (m *stubModel) Critique(_ context.Context, prompt string, frames []string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.critique == "" {
		return "looks fine", nil
	}
	return m.critique, nil
}

type stubEncoder struct {
	stitched  bool
	stitchErr error
	frames    int
}

func (e *stubEncoder) Stitch(_ context.Context, framePaths []string, audioPath, outPath string, fps int, resolution string) error {
	if e.stitchErr != nil {
		return e.stitchErr
	}
	e.stitched = true
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func (e *stubEncoder) ExtractFrames(_ context.Context, videoPath, outDir string, maxFrames int) ([]string, error) {
	n := e.frames
	if n == 0 {
		n = 3
	}
	if n > maxFrames {
		n = maxFrames
	}
	var paths []string
	for i := 0; i < n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("still-%03d.png", i))
		if err := os.WriteFile(p, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

type stubStorage struct {
	mu       sync.Mutex
	uploaded map[string]string
}

func (s *stubStorage) Upload(_ context.Context, localPath, key, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploaded == nil {
		s.uploaded = make(map[string]string)
	}
	s.uploaded[key] = localPath
	return nil
}

func (s *stubStorage) PresignGet(_ context.Context, key string) (string, error) {
	return "https://cdn.example.com/" + key, nil
}

func generateReq() GenerateRequest {
	return GenerateRequest{
		ProductName:  "Copper Mug",
		Tagline:      "Cold drinks, colder looks",
		CallToAction: "Shop now",
	}
}

func TestGenerate_ProducesResultURL(t *testing.T) {
	model := &stubModel{}
	enc := &stubEncoder{}
	store := &stubStorage{}
	gen := NewGenerator(model, enc, NewPublisher(store, "results"),
		WithScenes(4), WithGeneratorLogger(quiet()))

	j := job.New("generate", "video", "u1", nil)
	url, err := gen.Run(context.Background(), j, generateReq())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/results/u1/") || !strings.HasSuffix(url, ".mp4") {
		t.Errorf("url = %q, want presigned mp4 under results/u1/", url)
	}
	if !enc.stitched {
		t.Error("encoder never stitched")
	}
	if len(store.uploaded) != 1 {
		t.Errorf("uploads = %d, want 1", len(store.uploaded))
	}
	// 4 scene frames + 1 critique-free run: prompts only hold images here
	if len(model.prompts) != 4 {
		t.Errorf("scene prompts = %d, want 4", len(model.prompts))
	}
}

func TestGenerate_DefaultsApplied(t *testing.T) {
	model := &stubModel{}
	gen := NewGenerator(model, &stubEncoder{}, NewPublisher(&stubStorage{}, "results"),
		WithScenes(3), WithGeneratorLogger(quiet()))

	j := job.New("generate", "video", "u1", nil)
	if _, err := gen.Run(context.Background(), j, generateReq()); err != nil {
		t.Fatal(err)
	}

	for _, p := range model.prompts {
		if !strings.Contains(p, "general consumers") || !strings.Contains(p, "brand awareness") {
			t.Fatalf("prompt %q missing audience/goal defaults", p)
		}
	}
	if model.script == "" {
		t.Fatal("no voiceover script synthesized")
	}
}

func TestGenerate_ModelFailureHasModelKind(t *testing.T) {
	model := &stubModel{imageErr: errors.New("backend 503")}
	gen := NewGenerator(model, &stubEncoder{}, NewPublisher(&stubStorage{}, "results"),
		WithGeneratorLogger(quiet()))

	j := job.New("generate", "video", "u1", nil)
	_, err := gen.Run(context.Background(), j, generateReq())
	if err == nil {
		t.Fatal("Run() = nil, want model error")
	}
	if f := job.ClassifyError(err); f.Kind != "model" {
		t.Fatalf("failure kind = %q, want model", f.Kind)
	}
}

func TestGenerate_EncodeFailureHasEncodeKind(t *testing.T) {
	enc := &stubEncoder{stitchErr: errors.New("bad frame sequence")}
	gen := NewGenerator(&stubModel{}, enc, NewPublisher(&stubStorage{}, "results"),
		WithGeneratorLogger(quiet()))

	j := job.New("generate", "video", "u1", nil)
	_, err := gen.Run(context.Background(), j, generateReq())
	if f := job.ClassifyError(err); f.Kind != "encode" {
		t.Fatalf("failure kind = %q, want encode (err %v)", f.Kind, err)
	}
}

func TestGenerate_WorkspaceRemoved(t *testing.T) {
	gen := NewGenerator(&stubModel{}, &stubEncoder{}, NewPublisher(&stubStorage{}, "results"),
		WithGeneratorLogger(quiet()))

	j := job.New("generate", "video", "u1", nil)
	if _, err := gen.Run(context.Background(), j, generateReq()); err != nil {
		t.Fatal(err)
	}

	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "adreel-"+j.ID.String()+"-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("workspace left behind: %v", matches)
	}
}

func TestAnalyze_ProducesReportURL(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("fake video bytes"))
	}))
	defer src.Close()

	model := &stubModel{critique: "strong opener, weak call to action"}
	store := &stubStorage{}
	an := NewAnalyzer(model, &stubEncoder{}, NewPublisher(store, "reports"),
		WithAnalyzerLogger(quiet()))

	j := job.New("analyze", "analysis", "u2", nil)
	url, err := an.Run(context.Background(), j, AnalyzeRequest{
		ProductName: "Copper Mug",
		BrandName:   "Mugworks",
		Tagline:     "Cold drinks, colder looks",
		VideoURL:    src.URL + "/ad.mp4",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.HasPrefix(url, "https://cdn.example.com/reports/u2/") || !strings.HasSuffix(url, ".txt") {
		t.Errorf("url = %q, want presigned report under reports/u2/", url)
	}

	var reportPath string
	for _, local := range store.uploaded {
		reportPath = local
	}
	// Workspace is gone, but the critique prompt must have carried the brief.
	joined := strings.Join(model.prompts, "\n")
	if !strings.Contains(joined, "Mugworks") || !strings.Contains(joined, "Copper Mug") {
		t.Errorf("critique prompt missing brief: %q", joined)
	}
	_ = reportPath
}

func TestAnalyze_DownloadFailureHasDownloadKind(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer src.Close()

	an := NewAnalyzer(&stubModel{}, &stubEncoder{}, NewPublisher(&stubStorage{}, "reports"),
		WithAnalyzerLogger(quiet()))

	j := job.New("analyze", "analysis", "u2", nil)
	_, err := an.Run(context.Background(), j, AnalyzeRequest{
		ProductName: "Copper Mug",
		BrandName:   "Mugworks",
		Tagline:     "Cold drinks, colder looks",
		VideoURL:    src.URL + "/missing.mp4",
	})
	if f := job.ClassifyError(err); f.Kind != "download" {
		t.Fatalf("failure kind = %q, want download (err %v)", f.Kind, err)
	}
}

func TestNormalize_Duration(t *testing.T) {
	req := generateReq()
	req.Normalize()
	if req.Duration != DefaultDuration {
		t.Fatalf("Duration = %d, want %d", req.Duration, DefaultDuration)
	}

	req = generateReq()
	req.Duration = 30
	req.Normalize()
	if req.Duration != 30 {
		t.Fatalf("Duration = %d, want 30 preserved", req.Duration)
	}
}

func TestScenePrompts_OpenAndClose(t *testing.T) {
	req := generateReq()
	req.Normalize()
	prompts := scenePrompts(req, 6)

	if len(prompts) != 6 {
		t.Fatalf("len(prompts) = %d, want 6", len(prompts))
	}
	if !strings.Contains(prompts[0], "Opening shot") {
		t.Errorf("first prompt = %q, want opener", prompts[0])
	}
	if !strings.Contains(prompts[5], "Shop now") {
		t.Errorf("last prompt = %q, want call to action", prompts[5])
	}
}
