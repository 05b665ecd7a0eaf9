package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/akira/slidesmith/internal/consistency"
	"github.com/akira/slidesmith/internal/governance"
	"github.com/akira/slidesmith/internal/modelport"
	"github.com/akira/slidesmith/internal/observability"
	"github.com/akira/slidesmith/internal/plan"
	"github.com/akira/slidesmith/internal/review"
	"github.com/akira/slidesmith/internal/session"
	"github.com/akira/slidesmith/internal/store"
	"github.com/akira/slidesmith/internal/supervisor"
	"github.com/akira/slidesmith/internal/tools"
	"github.com/akira/slidesmith/internal/worker"
	"github.com/akira/slidesmith/pkg/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults apply when empty)")
		planPath   = flag.String("plan", "", "path to the plan file (YAML or JSON), required")
		objective  = flag.String("objective", "", "the user request the plan serves")
		editDeck   = flag.String("edit", "", "prior deck id to revise; reuses its style anchor")
		mock       = flag.Bool("mock", false, "use the deterministic mock model port")
	)
	flag.Parse()

	if *planPath == "" {
		log.Fatal("a plan file is required: -plan path/to/plan.yaml")
	}

	observability.PrintBanner()
	observability.InitializeTerminal()
	defer observability.CleanupTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
	}

	logger := observability.NewLogger()

	st, err := store.New(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	planData, err := os.ReadFile(*planPath)
	if err != nil {
		log.Fatalf("failed to read plan file: %v", err)
	}
	pl, err := plan.Parse(planData)
	if err != nil {
		log.Fatal(err)
	}

	port, toolCaller, err := buildPort(cfg, *mock)
	if err != nil {
		log.Fatal(err)
	}
	port = modelport.WithLogging(port, logger)

	registry := tools.NewRegistry()
	searchTool, err := tools.NewSearchTool()
	if err != nil {
		log.Printf("Warning: Failed to initialize search tool: %v", err)
	} else {
		registry.Register(searchTool)
	}
	registry.Register(tools.NewScraperTool())
	registry.Register(tools.NewRenderTool())

	gov := governance.NewDefaultPolicyEngine()
	// Research fetches stay off the local machine and network.
	_ = gov.DenyArguments(`file://`)
	_ = gov.DenyArguments(`https?://(localhost|127\.|10\.|192\.168\.)`)
	for _, t := range cfg.Policy.DeniedTools {
		gov.DenyTool(t)
	}
	for _, p := range cfg.Policy.DeniedPatterns {
		if err := gov.DenyArguments(p); err != nil {
			log.Fatalf("bad policy pattern %q: %v", p, err)
		}
	}

	var opts []session.Option
	if *editDeck != "" {
		opts = append(opts, session.WithEditMode(*editDeck))
	}
	sess := session.New(*objective, pl, opts...)

	engine := consistency.NewEngine(port, st, logger)
	engine.Concurrency = cfg.Supervisor.VisualizerConcurrency

	prompts := worker.NewPromptManager(cfg.App.PromptDir)
	dispatcher, err := worker.NewDispatcher(
		&worker.Researcher{Port: port, Tools: toolCaller, Prompts: prompts, Registry: registry, Policy: gov, Logger: logger},
		&worker.Storywriter{Port: port, Prompts: prompts},
		&worker.DataAnalyst{Port: port, Prompts: prompts},
		worker.NewVisualizer(port, prompts, engine, sess),
	)
	if err != nil {
		log.Fatal(err)
	}

	// Malformed plans die here, before the supervisor starts.
	if err := pl.Validate(dispatcher.Roles()); err != nil {
		log.Fatal(err)
	}

	supCfg := supervisor.Config{
		MaxRetries:    cfg.Supervisor.MaxRetries,
		MaxReplans:    cfg.Supervisor.MaxReplans,
		ReplanEnabled: cfg.ReplanEnabled(),
		StepTimeout:   cfg.Supervisor.StepTimeout.Std(),
		Retry:         supervisor.DefaultRetryConfig(),
	}
	sup := supervisor.New(dispatcher, &review.LLMReviewer{Port: port}, plan.NewLLMPlanner(port), logger, supCfg)
	sup.Sinks = []supervisor.EventSink{st}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Live resource dashboard (1-second updates).
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
			}
		}
	}()

	log.Printf("Session %s started: deck %s, %d steps", sess.ID, sess.DeckID, len(pl.Steps))

	runErr := sup.Run(ctx, sess)

	outcome := "done"
	if runErr != nil {
		outcome = "failed: " + runErr.Error()
	}
	if err := st.RecordSession(sess.ID, sess.DeckID, sess.Objective, outcome); err != nil {
		log.Printf("Warning: failed to record session: %v", err)
	}

	if runErr != nil {
		log.Printf("\033[91m[ FAIL ] SESSION FAILED: %v\033[0m", runErr)
		observability.CleanupTerminal()
		os.Exit(1)
	}

	outDir := filepath.Join(cfg.App.Workspace, sess.DeckID)
	if err := exportArtifacts(outDir, sess.Snapshot()); err != nil {
		log.Fatalf("failed to export artifacts: %v", err)
	}
	log.Printf("Session %s done: artifacts written to %s", sess.ID, outDir)
}

// buildPort assembles the model invocation port: a langchaingo chat
// model for structured text and the HTTP image client for slides, or
// the deterministic mock when -mock is set. The second return is the
// tool-calling surface for the researcher; it shares the chat model.
func buildPort(cfg *config.Config, mock bool) (modelport.Port, modelport.ToolCaller, error) {
	if mock {
		m := modelport.NewMockPort()
		return m, m, nil
	}

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		return nil, nil, fmt.Errorf("no enabled provider found in config")
	}

	switch pName {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, nil, err
		}
		text := modelport.NewLangChainText(llm)
		if cfg.Images.Endpoint == "" {
			return nil, nil, fmt.Errorf("images.endpoint is required with provider %s", pName)
		}
		images := modelport.NewImageClient(cfg.Images.Endpoint, cfg.Images.APIKey, cfg.Images.Model)
		return modelport.Split(text, images), text, nil
	default:
		return nil, nil, fmt.Errorf("provider %s not yet implemented", pName)
	}
}

// exportArtifacts writes the final artifact set to disk: image sets
// fan out into one PNG per slide, everything else lands as JSON.
func exportArtifacts(dir string, artifacts map[string]session.Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for id, a := range artifacts {
		if a.Type == session.ArtifactImage {
			if err := exportImageSet(dir, a); err != nil {
				return err
			}
			continue
		}
		name := fmt.Sprintf("%s.v%d.json", id, a.Version)
		if err := os.WriteFile(filepath.Join(dir, name), a.Content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func exportImageSet(dir string, a session.Artifact) error {
	var set worker.ImageSet
	if err := json.Unmarshal(a.Content, &set); err != nil {
		return fmt.Errorf("decode image set %s: %w", a.ID, err)
	}
	for _, slide := range set.Slides {
		img, err := base64.StdEncoding.DecodeString(slide.ImageB64)
		if err != nil {
			return fmt.Errorf("decode slide %d image: %w", slide.Index, err)
		}
		name := fmt.Sprintf("slide-%02d.png", slide.Index+1)
		if err := os.WriteFile(filepath.Join(dir, name), img, 0o644); err != nil {
			return err
		}
	}
	// Metadata without the raw bytes travels alongside the images.
	meta := worker.ImageSet{AnchorOrigin: set.AnchorOrigin, Slides: make([]worker.SlideImage, len(set.Slides))}
	for i, s := range set.Slides {
		s.ImageB64 = ""
		meta.Slides[i] = s
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, a.ID+".meta.json"), data, 0o644)
}
