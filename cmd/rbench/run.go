package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/reasoningbank/pkg/agent"
	"github.com/jllopis/reasoningbank/pkg/checkpoint"
	"github.com/jllopis/reasoningbank/pkg/config"
	"github.com/jllopis/reasoningbank/pkg/eval"
	"github.com/jllopis/reasoningbank/pkg/memory"
	"github.com/jllopis/reasoningbank/pkg/results"
	"github.com/jllopis/reasoningbank/pkg/scheduler"
	"github.com/jllopis/reasoningbank/pkg/telemetry"
)

type runFlags struct {
	tasks    []string
	episodes int
	split    string
	mode     string
	matts    bool
	resume   bool
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an evaluation",
		Long: `Run an evaluation over the configured tasks.

The run resumes from its checkpoint when one exists. Results are written to
runtime.output_dir as {run_id}_results.json plus a timestamped copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(rf.overrides(cmd)...)
			if err != nil {
				return err
			}
			return runEval(cmd.Context(), cfg, flags, rf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&rf.tasks, "tasks", nil, "task ids to run, e.g. 1-1,4-2 (default: all)")
	f.IntVar(&rf.episodes, "episodes", 0, "episodes per task")
	f.StringVar(&rf.split, "split", "", "variation split: train, dev or test")
	f.StringVar(&rf.mode, "mode", "", "memory mode: baseline, retrieve_only or retrieve_and_extract")
	f.BoolVar(&rf.matts, "matts", false, "enable memory-aware test-time scaling")
	f.BoolVar(&rf.resume, "resume", true, "resume from an existing checkpoint")
	return cmd
}

// overrides turns the flags the user set into config overrides.
func (rf *runFlags) overrides(cmd *cobra.Command) []string {
	var out []string
	f := cmd.Flags()
	if f.Changed("tasks") {
		out = append(out, "test.task_ids=["+strings.Join(rf.tasks, ", ")+"]")
	}
	if f.Changed("episodes") {
		out = append(out, "test.num_episodes="+strconv.Itoa(rf.episodes))
	}
	if f.Changed("split") {
		out = append(out, "test.split="+rf.split)
	}
	if f.Changed("mode") {
		out = append(out, "memory.mode="+rf.mode)
		if rf.mode != config.ModeBaseline {
			out = append(out, "memory.enabled=true")
		}
	}
	if f.Changed("matts") {
		out = append(out, "matts.enabled="+strconv.FormatBool(rf.matts))
	}
	return out
}

func runEval(ctx context.Context, cfg *config.Config, flags *globalFlags, rf *runFlags, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return NewConfigError(err, flags.ConfigPath)
	}
	logger := flags.logger(cfg, stderr)

	shutdown, err := telemetry.InitWithConfig("rbench", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := telemetry.NewEvalMetrics(ctx)
	if err != nil {
		return err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	environment, err := openEnvironment(ctx, cfg, catalog, logger)
	if err != nil {
		return err
	}
	defer environment.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		return NewConfigError(err, flags.ConfigPath)
	}
	client := newLLMClient(cfg, provider, metrics, logger)
	runner := agent.New(client,
		agent.WithFewShot(cfg.Prompt.UseFewShot),
		agent.WithHistoryLength(cfg.Prompt.HistoryLength),
		agent.WithMaxSteps(cfg.Test.MaxSteps),
		agent.WithLogger(logger),
	)

	schedule, err := scheduler.BuildSchedule(ctx, catalog, environment, scheduler.Params{
		TaskIDs:         cfg.Test.TaskIDs,
		Split:           cfg.Test.Split,
		Seed:            cfg.Test.Seed,
		EpisodesPerTask: cfg.Test.NumEpisodes,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	runID := cfg.RunID()
	if !rf.resume {
		cp := checkpoint.New(cfg.Runtime.OutputDir, runID, cfg.Runtime.SaveInterval)
		if err := cp.Remove(); err != nil {
			return err
		}
	}

	opts := eval.Options{
		RunID:           runID,
		Model:           cfg.LLM.Model,
		Split:           cfg.Test.Split,
		Mode:            cfg.Memory.EffectiveMode(),
		Simplifications: cfg.Test.Simplifications,
		MaxSteps:        cfg.Test.MaxSteps,
		OutputDir:       cfg.Runtime.OutputDir,
		SaveInterval:    cfg.Runtime.SaveInterval,
		KeepCheckpoint:  cfg.Runtime.KeepCheckpoint,
		MaTTS: eval.MaTTS{
			Enabled:        cfg.MaTTS.Enabled,
			SampleN:        cfg.MaTTS.SampleN,
			Temperature:    cfg.MaTTS.Temperature,
			MaxTokens:      cfg.MaTTS.MaxTokens,
			EnableThinking: cfg.MaTTS.EnableThinking,
		},
		Config: cfg,
	}
	engineOpts := []eval.Option{eval.WithMetrics(metrics), eval.WithLogger(logger)}

	if cfg.Memory.ShouldRetrieve() {
		b, err := openBank(ctx, cfg, logger)
		if err != nil {
			logger.Warn("memory bank unavailable, running baseline", "error", err)
		} else {
			defer b.Close()
			var extractor *memory.Extractor
			if cfg.Memory.ShouldExtract() {
				extractor = memory.NewExtractor(client,
					memory.WithContrastiveThinking(cfg.MaTTS.EnableThinking),
					memory.WithExtractorLogger(logger),
				)
			}
			engineOpts = append(engineOpts, eval.WithMemory(b.store, b.retriever, extractor))
		}
	}

	if cfg.Runtime.Ledger {
		if err := os.MkdirAll(cfg.Runtime.OutputDir, 0o755); err != nil {
			return err
		}
		ledger, err := results.OpenLedger(filepath.Join(cfg.Runtime.OutputDir, "ledger.db"))
		if err != nil {
			return err
		}
		defer ledger.Close()
		engineOpts = append(engineOpts, eval.WithLedger(ledger))
	}

	engine := eval.New(environment, runner, opts, engineOpts...)
	report, err := engine.Run(ctx, schedule)
	if report != nil {
		if perr := printReport(stdout, report, engine.Mode(), flags.JSON); perr != nil {
			return perr
		}
	}
	if report != nil && stderrors.Is(err, context.Canceled) {
		logger.Info("run interrupted, checkpoint kept", slog.String("checkpoint", report.CheckpointPath))
		return nil
	}
	return err
}

type reportView struct {
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	Scheduled   int             `json:"scheduled"`
	Resumed     int             `json:"resumed"`
	Ran         int             `json:"ran"`
	Interrupted bool            `json:"interrupted"`
	ResultsPath string          `json:"results_path,omitempty"`
	Summary     results.Summary `json:"summary"`
}

func printReport(w io.Writer, r *eval.Report, mode string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reportView{
			RunID:       r.RunID,
			Mode:        mode,
			Scheduled:   r.Scheduled,
			Resumed:     r.Resumed,
			Ran:         r.Ran,
			Interrupted: r.Interrupted,
			ResultsPath: r.ResultsPath,
			Summary:     r.Summary,
		})
	}
	s := r.Summary
	fmt.Fprintf(w, "Run %s (%s)\n", r.RunID, mode)
	fmt.Fprintf(w, "  episodes:     %d scheduled, %d resumed, %d run\n", r.Scheduled, r.Resumed, r.Ran)
	fmt.Fprintf(w, "  success rate: %.1f%% (%d/%d)\n", s.SuccessRate*100, s.Successes, s.TotalEpisodes)
	fmt.Fprintf(w, "  avg score:    %.1f\n", s.AvgScore)
	fmt.Fprintf(w, "  avg steps:    %.1f\n", s.AvgSteps)
	if r.Interrupted {
		fmt.Fprintf(w, "  interrupted:  resume with the same config\n")
	}
	if r.ResultsPath != "" {
		fmt.Fprintf(w, "  results:      %s\n", r.ResultsPath)
	}
	return nil
}
