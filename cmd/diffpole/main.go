package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/guptarohit/asciigraph"
	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"

	"github.com/san-kum/diffpole/internal/config"
	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/export"
	"github.com/san-kum/diffpole/internal/integrators"
	"github.com/san-kum/diffpole/internal/metrics"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
	"github.com/san-kum/diffpole/internal/storage"
	"github.com/san-kum/diffpole/internal/trainer"
	"github.com/san-kum/diffpole/internal/viz"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string
	seed       int64

	iterations   int
	maxSteps     int
	learningRate float64
	unroll       int
	clip         float64
	noRender     bool
	theme        string

	episodes  int
	fps       int
	svgPath   string
	framePath string
	outPath   string
	tail      int
	pngWidth  float64
	pngHeight float64
	benchN    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "diffpole",
		Short: "differentiable cart-pole simulator and policy trainer",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")

	trainCmd := &cobra.Command{
		Use:   "train [handle]",
		Short: "train a policy, resuming if the handle exists",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTrain,
	}
	addRunFlags(trainCmd)
	trainCmd.Flags().IntVar(&iterations, "iterations", config.DefaultIterations, "training iterations")
	trainCmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "maximum steps per episode")
	trainCmd.Flags().Float64Var(&learningRate, "lr", config.DefaultLearningRate, "Adam learning rate")
	trainCmd.Flags().IntVar(&unroll, "unroll", config.DefaultUnroll, "steps differentiated per update")
	trainCmd.Flags().Float64Var(&clip, "clip", config.DefaultClip, "gradient clip (0 disables)")
	trainCmd.Flags().BoolVar(&noRender, "no-render", false, "train without the live view")
	trainCmd.Flags().StringVar(&theme, "theme", viz.ThemeNeon.Name, "color theme")

	playCmd := &cobra.Command{
		Use:   "play [handle]",
		Short: "replay a saved policy on a fresh episode",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlay,
	}
	addRunFlags(playCmd)
	playCmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "maximum steps per episode")
	playCmd.Flags().IntVar(&episodes, "episodes", 0, "also report survival rate over this many random episodes")
	playCmd.Flags().IntVar(&fps, "fps", 50, "replay frame rate")
	playCmd.Flags().StringVar(&svgPath, "svg", "", "write the x/theta phase portrait to this svg file")
	playCmd.Flags().StringVar(&framePath, "frame", "", "write the final frame to this svg file")
	playCmd.Flags().BoolVar(&noRender, "no-render", false, "print a summary instead of replaying")
	playCmd.Flags().StringVar(&theme, "theme", viz.ThemeNeon.Name, "color theme")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved policies",
		RunE:  listPolicies,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [handle]",
		Short: "delete a saved policy and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := storage.New(dataDir).Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history [handle]",
		Short: "show the per-iteration training log",
		Args:  cobra.ExactArgs(1),
		RunE:  showHistory,
	}
	historyCmd.Flags().IntVar(&tail, "tail", 0, "show only the last n iterations")

	plotCmd := &cobra.Command{
		Use:   "plot [handle]",
		Short: "plot training progress in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotHistory,
	}

	exportPNGCmd := &cobra.Command{
		Use:   "export-png [handle]",
		Short: "export the training curve as a png",
		Args:  cobra.ExactArgs(1),
		RunE:  exportPNG,
	}
	exportPNGCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default <handle>-curve.png)")
	exportPNGCmd.Flags().Float64Var(&pngWidth, "width", 6, "width in inches")
	exportPNGCmd.Flags().Float64Var(&pngHeight, "height", 4, "height in inches")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE:  listPresets,
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "write the effective configuration as yaml",
		Args:  cobra.ExactArgs(1),
		RunE:  writeConfig,
	}
	addRunFlags(configCmd)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "benchmark physics, inference and training",
		RunE:  runBench,
	}
	benchCmd.Flags().IntVar(&benchN, "n", 100000, "plain steps to time")
	benchCmd.Flags().IntVar(&iterations, "iterations", 3, "training iterations to time")
	benchCmd.Flags().IntVar(&maxSteps, "max-steps", 200, "maximum steps per training episode")
	benchCmd.Flags().IntVar(&unroll, "unroll", config.DefaultUnroll, "steps differentiated per update")

	rootCmd.AddCommand(trainCmd, playCmd, listCmd, deleteCmd, historyCmd, plotCmd, exportPNGCmd, presetsCmd, configCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 seeds from the clock)")
}

func newLogger(w io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "diffpole",
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	}), nil
}

// resolveConfig layers defaults, preset, config file and changed flags, in
// that order. A handle argument names the model.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.LoadOnto(configFile, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("iterations") {
		cfg.Training.Iterations = iterations
	}
	if flags.Changed("max-steps") {
		cfg.Training.MaxSteps = maxSteps
	}
	if flags.Changed("lr") {
		cfg.Training.LearningRate = learningRate
	}
	if flags.Changed("unroll") {
		cfg.Training.Unroll = unroll
	}
	if flags.Changed("clip") {
		cfg.Training.Clip = clip
	}
	if flags.Changed("no-render") {
		cfg.Training.Render = !noRender
	}
	if flags.Changed("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = logLevel
	}
	logLevel = cfg.LogLevel
	if flags.Changed("data") || cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if len(args) > 0 {
		cfg.Model = args[0]
	}
	return cfg, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	st := storage.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if !cfg.Training.Render {
		logger, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		sess := trainer.NewSession(*cfg, st, trainer.WithLogger(logger))
		start := time.Now()
		if err := sess.Run(ctx); err != nil {
			return err
		}
		printSummary(cfg.Model, sess.History(), sess.Metrics(), time.Since(start))
		return nil
	}

	// the live view owns the terminal, so logs go to a file
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "diffpole.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger, err := newLogger(logFile)
	if err != nil {
		return err
	}

	viz.SetTheme(theme)
	feed := viz.NewFeed()
	sess := trainer.NewSession(*cfg, st, trainer.WithLogger(logger), trainer.WithObserver(feed))

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- sess.Run(ctx) }()

	m := viz.NewTrainModel(cfg.Model, cfg.Training.Iterations, cfg.Training.MaxSteps, feed, done, sess.RequestStop)
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		sess.RequestStop()
		cancel()
		return err
	}
	if err := final.(viz.TrainModel).Err(); err != nil {
		return err
	}
	printSummary(cfg.Model, sess.History(), sess.Metrics(), time.Since(start))
	return nil
}

func printSummary(handle string, history []dynamo.IterationRecord, values map[string]float64, elapsed time.Duration) {
	fmt.Printf("policy: %s\n", handle)
	fmt.Printf("iterations: %d\n", len(history))
	if n := len(history); n > 0 {
		fmt.Printf("last episode: %d steps\n", history[n-1].Steps)
	}
	fmt.Printf("elapsed: %v\n", elapsed.Round(time.Millisecond))
	printMetrics(values)
}

func printMetrics(values map[string]float64) {
	if len(values) == 0 {
		return
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nmetrics:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\t%.4f\n", name, values[name])
	}
	w.Flush()
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	steps := cfg.Training.MaxSteps
	if steps <= 0 {
		return &dynamo.ValidationError{Field: "max_steps", Value: steps, Reason: "must be greater than 0"}
	}

	pol, err := storage.New(cfg.DataDir).Load(cfg.Model)
	if err != nil {
		return err
	}

	s := cfg.Seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(s))
	phys := cfg.NewCartPole()
	phys.Reset(rng)

	frames := []dynamo.Snapshot{phys.Snapshot()}
	record := dynamo.ObserverFunc(func(snap dynamo.Snapshot) {
		frames = append(frames, snap)
	})
	tr, err := trainer.Evaluate(cmd.Context(), pol, phys, steps, record)
	if err != nil {
		return err
	}

	if svgPath != "" {
		pts := export.PhasePoints(tr.States, dynamo.IdxX, dynamo.IdxTheta)
		svg := export.TrajectoryToSVG(pts, 800, 600, "#00ffff")
		if err := os.WriteFile(svgPath, []byte(svg), 0644); err != nil {
			return err
		}
	}

	if framePath != "" {
		svg := export.SnapshotToSVG(frames[len(frames)-1], 60, 12, 4)
		if err := os.WriteFile(framePath, []byte(svg), 0644); err != nil {
			return err
		}
	}

	if noRender {
		fmt.Printf("policy: %s\n", cfg.Model)
		fmt.Printf("steps survived: %d/%d\n", tr.Steps, steps)
		fmt.Printf("terminal: %v\n", tr.Terminal)
	} else {
		viz.SetTheme(theme)
		frameTime := time.Second / time.Duration(max(1, fps))
		title := fmt.Sprintf("DIFFPOLE · %s", cfg.Model)
		if _, err := tea.NewProgram(viz.NewPlayModel(title, frames, frameTime), tea.WithAltScreen()).Run(); err != nil {
			return err
		}
	}

	if episodes > 0 {
		rate, err := trainer.SurvivalRate(cmd.Context(), pol, phys, rng, episodes, steps)
		if err != nil {
			return err
		}
		fmt.Printf("survival rate over %d episodes: %.1f%%\n", episodes, rate*100)
	}
	return nil
}

func listPolicies(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	metas, err := st.List()
	if err != nil {
		return err
	}

	if len(metas) == 0 {
		fmt.Println("no policies found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tUPDATED\tITERS\tLAST\tBEST\tLOSS\tPARAMS")

	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.5f\t%d\n",
			m.Handle,
			m.UpdatedAt.Format("2006-01-02 15:04:05"),
			m.Iterations,
			m.LastSteps,
			m.BestSteps,
			m.LastLoss,
			m.NumParams,
		)
	}

	return w.Flush()
}

func loadHistory(handle string) ([]dynamo.IterationRecord, error) {
	recs, err := storage.New(dataDir).LoadHistory(handle)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no history for %s", handle)
	}
	return recs, nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	recs, err := loadHistory(args[0])
	if err != nil {
		return err
	}
	if tail > 0 && tail < len(recs) {
		recs = recs[len(recs)-tail:]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tSTEPS\tBLOCKS\tLOSS\tEFFORT\tTERMINAL\tTIME")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%d\t%d\t%.5f\t%.3f\t%v\t%v\n",
			r.Iteration, r.Steps, r.Blocks, r.Loss, r.Effort, r.Terminal,
			r.Duration.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	printMetrics(metrics.Summarize(recs, 20))
	return nil
}

func plotHistory(cmd *cobra.Command, args []string) error {
	recs, err := loadHistory(args[0])
	if err != nil {
		return err
	}

	steps := make([]float64, len(recs))
	losses := make([]float64, len(recs))
	for i, r := range recs {
		steps[i] = float64(r.Steps)
		losses[i] = r.Loss
	}

	fmt.Printf("policy: %s\n", args[0])
	fmt.Printf("iterations: %d (%d to %d)\n\n", len(recs), recs[0].Iteration, recs[len(recs)-1].Iteration)

	fmt.Println(asciigraph.Plot(steps,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Precision(0),
		asciigraph.Caption("steps survived"),
	))
	fmt.Println()
	fmt.Println(asciigraph.Plot(losses,
		asciigraph.Height(8),
		asciigraph.Width(80),
		asciigraph.Caption("final failure-margin loss"),
	))
	return nil
}

func exportPNG(cmd *cobra.Command, args []string) error {
	handle := args[0]
	recs, err := loadHistory(handle)
	if err != nil {
		return err
	}

	p, err := export.TrainingCurve(handle, recs)
	if err != nil {
		return err
	}
	out := outPath
	if out == "" {
		out = handle + "-curve.png"
	}
	if err := export.SavePNG(p, pngWidth, pngHeight, out); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tITERS\tMAX STEPS\tLR\tUNROLL\tRENDER")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		t := p.Training
		fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%d\t%v\n",
			name, t.Iterations, t.MaxSteps, t.LearningRate, t.Unroll, t.Render)
	}
	return w.Flush()
}

func writeConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, nil)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(args[0], cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", args[0])
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}
	if benchN <= 0 {
		return &dynamo.ValidationError{Field: "n", Value: benchN, Reason: "must be greater than 0"}
	}

	fmt.Printf("cpu: %s\n", cpuid.CPU.BrandName)
	fmt.Printf("cores: %d physical, %d logical\n", cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	fmt.Printf("avx2: %v  fma3: %v  avx512f: %v\n\n",
		cpuid.CPU.Supports(cpuid.AVX2),
		cpuid.CPU.Supports(cpuid.FMA3),
		cpuid.CPU.Supports(cpuid.AVX512F))

	rng := rand.New(rand.NewSource(42))
	pol := policy.New(rng)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTEPS\tTIME\tSTEPS/SEC")

	phys := physics.NewCartPole()
	start := time.Now()
	for i := 0; i < benchN; i++ {
		if err := phys.Step(0); err != nil {
			return err
		}
	}
	benchRow(w, "physics step", benchN, time.Since(start))

	state := dynamo.State{0, 0, 0.01, 0}
	start = time.Now()
	for i := 0; i < benchN; i++ {
		pol.Predict(state)
	}
	benchRow(w, "policy forward", benchN, time.Since(start))

	opt, err := trainer.NewOptimizer(config.DefaultLearningRate, config.DefaultClip)
	if err != nil {
		return err
	}
	tr := trainer.New(rng, logger)
	tr.Unroll = unroll
	phys = physics.NewCartPole()
	total := 0
	start = time.Now()
	for i := 0; i < iterations; i++ {
		res, err := tr.RunIteration(cmd.Context(), pol, phys, opt, maxSteps)
		if err != nil {
			return err
		}
		total += res.Steps
	}
	benchRow(w, fmt.Sprintf("training (unroll %d)", unroll), total, time.Since(start))
	if err := w.Flush(); err != nil {
		return err
	}

	// one simulated second from a small tilt, no force
	cp := physics.NewCartPole()
	n := int(1 / cp.Tau)
	drift := integrators.Drift(cp, integrators.NewEuler(), integrators.NewRK4(),
		dynamo.State{0, 0, 0.05, 0}, dynamo.Control{0}, cp.Tau, n)
	fmt.Printf("\neuler vs rk4 drift over %d steps at tau=%g: %.3e\n", n, cp.Tau, drift)
	return nil
}

func benchRow(w io.Writer, stage string, steps int, elapsed time.Duration) {
	rate := 0.0
	if elapsed > 0 {
		rate = float64(steps) / elapsed.Seconds()
	}
	fmt.Fprintf(w, "%s\t%d\t%v\t%.0f\n", stage, steps, elapsed.Round(time.Microsecond), rate)
}
