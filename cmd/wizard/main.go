// cmd/wizard/main.go
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	commonaws "infra-wizard/internal/common/aws"
	"infra-wizard/internal/common/config"
	"infra-wizard/internal/common/database"
	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/common/observability"
	"infra-wizard/internal/lexicon"
	"infra-wizard/internal/models"
	"infra-wizard/internal/notify"
	"infra-wizard/internal/pipeline/assemble"
	"infra-wizard/internal/pipeline/capability"
	"infra-wizard/internal/pipeline/clarify"
	"infra-wizard/internal/pipeline/graph"
	"infra-wizard/internal/pipeline/intent"
	"infra-wizard/internal/pipeline/session"
	"infra-wizard/internal/pipeline/synth"
	"infra-wizard/internal/runner"
	"infra-wizard/internal/store"
)

func main() {
	outDir := flag.String("out", "", "output directory (overrides pipeline.output_dir)")
	environment := flag.String("env", "", "target environment name (overrides pipeline.environment)")
	force := flag.Bool("force", false, "overwrite existing files instead of failing")
	plan := flag.Bool("plan", false, "run terraform init/validate/plan on the generated project")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Pipeline.OutputDir = *outDir
	}
	if *environment != "" {
		cfg.Pipeline.Environment = *environment
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lex, err := lexicon.Default()
	if err != nil {
		log.WithError(err).Error("failed to load resource catalogue", nil)
		os.Exit(1)
	}

	var obs *observability.Observability
	if cfg.Metrics.Enabled {
		obs = observability.New(cfg.App.Name)
		defer obs.Shutdown(context.Background())
		go serveMetrics(cfg.Metrics.Listen, log)
	}

	stdin := bufio.NewScanner(os.Stdin)
	o := buildOrchestrator(ctx, cfg, lex, stdin, *force, obs, log)

	utterance := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if utterance == "" {
		fmt.Print("What would you like to build? ")
		if !stdin.Scan() {
			os.Exit(1)
		}
		utterance = strings.TrimSpace(stdin.Text())
	}

	summary, err := o.Run(ctx, utterance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session %s aborted: %v\n", summary.SessionID, err)
		os.Exit(1)
	}

	if *plan && cfg.Runner.Enabled {
		runPlan(ctx, cfg, summary, log)
	}
}

// buildOrchestrator wires the pipeline from configuration. Optional
// infrastructure (redis cache, postgres store, SNS sink, live provider
// adapter) degrades to in-process behavior when disabled or unreachable.
func buildOrchestrator(ctx context.Context, cfg *config.Config, lex *lexicon.Lexicon, stdin *bufio.Scanner, force bool, obs *observability.Observability, log logger.Logger) *session.Orchestrator {
	var cache *capability.Cache
	if cfg.Database.Redis.Enabled {
		redis, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, capability caching disabled", nil)
		} else {
			cache = capability.NewCache(redis, time.Duration(cfg.Provider.CacheTTL)*time.Second, log)
		}
	}

	var adapter capability.Adapter
	if cfg.Provider.Active == "aws" {
		awsCfg, err := commonaws.LoadConfig(ctx, cfg.Provider.Region)
		if err != nil {
			log.WithError(err).Warn("aws credentials unavailable, using capability snapshot", nil)
		} else {
			adapter = capability.NewAWSAdapter(ec2.NewFromConfig(awsCfg), lex)
		}
	}

	var sessionStore store.SessionStore
	if cfg.Database.Postgres.Enabled {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			log.WithError(err).Warn("postgres unavailable, session history disabled", nil)
		} else {
			pgStore := store.NewPostgresStore(pg, log)
			if err := pgStore.EnsureSchema(ctx); err != nil {
				log.WithError(err).Warn("failed to prepare session table, history disabled", nil)
			} else {
				sessionStore = pgStore
			}
		}
	}

	sinks := notify.Multi{notify.NewConsoleSink(os.Stdout)}
	if cfg.Notifications.SNS.Enabled {
		snsClient, err := commonaws.NewSNSClient(ctx, cfg.Notifications.SNS.Region)
		if err != nil {
			log.WithError(err).Warn("sns unavailable, skipping topic notifications", nil)
		} else {
			sinks = append(sinks, notify.NewSNSSink(snsClient, cfg.Notifications.SNS.TopicARN, log))
		}
	}

	synthesizer, err := synth.NewSynthesizer(lex, log)
	if err != nil {
		log.WithError(err).Error("failed to parse synthesis templates", nil)
		os.Exit(1)
	}

	return session.NewOrchestrator(session.Deps{
		Lexicon:   lex,
		Extractor: intent.NewExtractor(lex, nil, log),
		Engine: clarify.NewEngine(lex,
			cfg.Pipeline.ConfidenceThreshold,
			cfg.Pipeline.SlotMaxAttempts,
			log),
		Validator:      capability.NewValidator(lex, adapter, cache, cfg.Provider, log),
		Builder:        graph.NewBuilder(lex, log),
		Synthesizer:    synthesizer,
		Assembler:      assemble.NewAssembler(cfg.Pipeline.OutputDir, force, log),
		Frontend:       &consoleFrontend{in: stdin, out: os.Stdout},
		Store:          sessionStore,
		Sink:           sinks,
		Obs:            obs,
		Provider:       cfg.Provider.Active,
		Environment:    cfg.Pipeline.Environment,
		MaxSubnetSplit: cfg.Pipeline.MaxSubnetSplit,
		Log:            log,
	})
}

// runPlan validates the generated environment with terraform.
func runPlan(ctx context.Context, cfg *config.Config, summary *models.SessionSummary, log logger.Logger) {
	dir := filepath.Join(cfg.Pipeline.OutputDir, "environments", summary.Environment)
	r := runner.NewRunner(cfg.Runner, log)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"init", func() error { return r.Init(ctx, dir) }},
		{"validate", func() error { return r.Validate(ctx, dir) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			fmt.Fprintf(os.Stderr, "terraform %s failed: %v\n", step.name, err)
			return
		}
	}
	res, err := r.Plan(ctx, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "terraform plan failed: %v\n", err)
		return
	}
	fmt.Printf("terraform plan: %d to add, %d to change, %d to destroy\n",
		res.Add, res.Change, res.Destroy)
}

func serveMetrics(listen string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics listener started", map[string]interface{}{"listen": listen})
	if err := http.ListenAndServe(listen, mux); err != nil {
		log.WithError(err).Warn("metrics listener stopped", nil)
	}
}

// ==========================
// Console Frontend
// ==========================

// consoleFrontend drives clarification over stdin/stdout.
type consoleFrontend struct {
	in  *bufio.Scanner
	out *os.File
}

func (c *consoleFrontend) AskSlot(ctx context.Context, slot *models.AmbiguitySlot) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintln(c.out, slot.Prompt)
	if len(slot.Candidates) > 0 {
		fmt.Fprintf(c.out, "  options: %s\n", strings.Join(slot.Candidates, ", "))
	}
	fmt.Fprint(c.out, "> ")
	if !c.in.Scan() {
		return "", fmt.Errorf("input closed")
	}
	return c.in.Text(), nil
}

func (c *consoleFrontend) Confirm(summary *models.SessionSummary, artifacts []models.SynthesizedArtifact) bool {
	fmt.Fprintf(c.out, "\nAbout to generate %d resources on %s (%s):\n",
		summary.TotalResources(), summary.Provider, summary.Region)
	for _, kind := range models.AllKinds() {
		if n := summary.Counts[kind]; n > 0 {
			fmt.Fprintf(c.out, "  %-14s %d\n", string(kind), n)
		}
	}
	for _, w := range summary.Warnings {
		fmt.Fprintf(c.out, "  warning: [%s] %s\n", w.Code, w.Message)
	}
	fmt.Fprintf(c.out, "%d files will be written.\n", len(artifacts))
	fmt.Fprint(c.out, "Proceed? [y/N] ")
	if !c.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}
