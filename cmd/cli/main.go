package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/AcousticLab/internal/render"
	"github.com/himanishpuri/AcousticLab/pkg/acousticlab"
	"github.com/himanishpuri/AcousticLab/pkg/logger"
)

// Global flags
var (
	dbPath     string
	tempDir    string
	outDir     string
	sampleRate int
	iterations int
)

func init() {
	// Global flags that can be used with any command
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTICLAB_DB_PATH", "acousticlab.sqlite3"), "Path to the SQLite database file")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("ACOUSTICLAB_TEMP_DIR", os.TempDir()), "Directory for the playback file")
	flag.StringVar(&outDir, "out", getEnvOrDefault("ACOUSTICLAB_OUT_DIR", "."), "Directory for generated audio")
	flag.IntVar(&sampleRate, "rate", 22050, "Sample rate of the training and generation pipeline")
	flag.IntVar(&iterations, "iterations", 64, "Griffin-Lim iterations used by generate")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService creates a new AcousticLab service with configured options
func createService(extra ...acousticlab.Option) (acousticlab.Service, error) {
	opts := []acousticlab.Option{
		acousticlab.WithDBPath(dbPath),
		acousticlab.WithTempDir(tempDir),
		acousticlab.WithOutputDir(outDir),
		acousticlab.WithSampleRate(sampleRate),
		acousticlab.WithGriffinLimIterations(iterations),
	}
	return acousticlab.NewService(append(opts, extra...)...)
}

func mustCreateService(extra ...acousticlab.Option) acousticlab.Service {
	svc, err := createService(extra...)
	if err != nil {
		fail("Failed to create service", err)
	}
	return svc
}

// fail reports err once to the user and once to the log, then exits.
func fail(what string, err error) {
	fmt.Printf("\n❌ %s: %v\n", what, err)
	logger.GetLogger().Errorf("%s: %v", what, err)
	os.Exit(1)
}

// splitArgs separates leading positional arguments from the flags that follow.
func splitArgs(args []string) (positional, flagArgs []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	// Initialize logger
	log := logger.GetLogger()

	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	log.Infof("Executing command: %s", command)

	switch command {
	case "analyze":
		handleAnalyze(ctx, args)
	case "spectrogram":
		handleSpectrogram(ctx, args)
	case "train":
		handleTrain(ctx, args)
	case "generate":
		handleGenerate(ctx, args)
	case "play":
		handlePlay(ctx, args)
	case "models":
		handleModels(args)
	case "history":
		handleHistory(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
    _                       _   _      _          _
   / \   ___ ___  _   _ ___| |_(_) ___| |    __ _| |__
  / _ \ / __/ _ \| | | / __| __| |/ __| |   / _' | '_ \
 / ___ \ (_| (_) | |_| \__ \ |_| | (__| |__| (_| | |_) |
/_/   \_\___\___/ \__,_|___/\__|_|\___|_____\__,_|_.__/

        Audio Analysis and Generation CLI Tool
`
	fmt.Println(banner)
}

func handleAnalyze(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: acousticlab analyze <audio_file>")
		os.Exit(1)
	}
	audioPath := args[0]

	svc := mustCreateService()
	defer svc.Close()

	fmt.Println("🎵 Loading audio file...")
	buf, err := svc.Load(ctx, audioPath)
	if err != nil {
		fail("Failed to load audio", err)
	}
	fmt.Printf("   %d channel(s), %d Hz, %s\n", buf.NumChannels(), buf.SampleRate, buf.Duration().Round(time.Millisecond))

	fmt.Println("🔍 Detecting tempo, beats and key...")
	a, err := svc.Analyze()
	if err != nil {
		fail("Failed to analyze audio", err)
	}

	fmt.Println("\n✅ Analysis complete!")
	if a.Beat.Tempo > 0 {
		fmt.Printf("   Tempo:  %.1f BPM\n", a.Beat.Tempo)
	} else {
		fmt.Println("   Tempo:  none detected")
	}
	if len(a.Beat.TempoCandidates) > 1 {
		fmt.Printf("   Alternatives: %s BPM\n", formatFloats(a.Beat.TempoCandidates[1:], "%.1f"))
	}
	fmt.Printf("   Beats:  %d\n", len(a.Beat.Beats))
	if len(a.Beat.Beats) > 0 {
		shown := a.Beat.Beats[:min(8, len(a.Beat.Beats))]
		fmt.Printf("   First beats (s): %s\n", formatFloats(shown, "%.2f"))
	}
	if a.Key != nil {
		fmt.Printf("   Key:    %s (correlation %.2f over %d pitched frames)\n", a.Key, a.Key.Score, a.Key.Pitches)
	} else {
		fmt.Println("   Key:    none detected")
	}
}

func handleSpectrogram(ctx context.Context, args []string) {
	positional, flagArgs := splitArgs(args)

	specCmd := flag.NewFlagSet("spectrogram", flag.ExitOnError)
	out := specCmd.String("o", "", "Output PNG for the mel spectrogram (default: <file>.mel.png)")
	scale := specCmd.Int("scale", 2, "Pixels per mel bin and frame")
	waveform := specCmd.String("waveform", "", "Also write a linear-frequency spectrogram PNG here")
	specCmd.Parse(flagArgs)

	if len(positional) < 1 {
		fmt.Println("Usage: acousticlab spectrogram <audio_file> [-o mel.png] [--scale n] [--waveform wave.png]")
		os.Exit(1)
	}
	audioPath := positional[0]
	if *out == "" {
		*out = strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath)) + ".mel.png"
	}

	svc := mustCreateService()
	defer svc.Close()

	buf, err := svc.Load(ctx, audioPath)
	if err != nil {
		fail("Failed to load audio", err)
	}
	spec, err := svc.Spectrogram()
	if err != nil {
		fail("Failed to compute spectrogram", err)
	}

	lo, hi := spec.Range()
	fmt.Printf("📊 Mel spectrogram: %d bins x %d frames of %.1f ms (%.1f to %.1f dB)\n",
		spec.NMels(), spec.Frames(), spec.FrameSeconds()*1000, lo, hi)

	if _, err := render.MelPNG(spec, *out, *scale); err != nil {
		fail("Failed to render spectrogram", err)
	}
	fmt.Printf("✅ Saved mel spectrogram to %s\n", *out)

	if *waveform != "" {
		if _, err := render.WaveformPNG(buf, *waveform, render.DefaultWaveformOptions()); err != nil {
			fail("Failed to render waveform spectrogram", err)
		}
		fmt.Printf("✅ Saved waveform spectrogram to %s\n", *waveform)
	}
}

func handleTrain(ctx context.Context, args []string) {
	positional, flagArgs := splitArgs(args)

	trainCmd := flag.NewFlagSet("train", flag.ExitOnError)
	save := trainCmd.String("save", "", "Store the trained model under this name")
	epochs := trainCmd.Int("epochs", 20, "Training epochs")
	hidden := trainCmd.Int("hidden", 256, "Recurrent layer width")
	precision := trainCmd.String("precision", "float32", "Stored weight precision (float32 or float16)")
	seed := trainCmd.Uint64("seed", 42, "Random seed")
	trainCmd.Parse(flagArgs)

	if len(positional) < 1 {
		fmt.Println("Usage: acousticlab train <corpus_dir> [--save name] [--epochs n] [--hidden n] [--precision float32|float16]")
		os.Exit(1)
	}

	prec, err := acousticlab.ParsePrecision(*precision)
	if err != nil {
		fail("Invalid precision", err)
	}

	svc := mustCreateService(
		acousticlab.WithEpochs(*epochs),
		acousticlab.WithHiddenSize(*hidden),
		acousticlab.WithWeightPrecision(prec),
		acousticlab.WithSeed(*seed),
	)
	defer svc.Close()

	res := train(ctx, svc, positional[0], *epochs)

	fmt.Println("\n✅ Training complete!")
	fmt.Printf("   Files:       %d\n", len(res.Files))
	fmt.Printf("   Max length:  %d frames\n", res.Model.MaxLen)
	fmt.Printf("   Final loss:  %.5f\n", res.Model.FinalLoss())
	fmt.Printf("   Recon. MSE:  %.5f\n", res.ReconstructionError)
	fmt.Printf("   Took:        %s\n", res.Elapsed.Round(time.Millisecond))

	if *save == "" {
		fmt.Println("\n   Model was not saved; pass --save <name> to keep it")
		return
	}
	info, err := svc.SaveModel(*save)
	if err != nil {
		fail("Failed to save model", err)
	}
	fmt.Printf("\n💾 Saved model %q (ID: %s)\n", info.Name, info.ID)
}

// train runs a training job with a progress bar over epochs.
func train(ctx context.Context, svc acousticlab.Service, dir string, epochs int) *acousticlab.TrainResult {
	fmt.Printf("🧠 Training on %s\n", dir)

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(epochs),
		mpb.PrependDecorators(
			decor.Name("Epochs: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)

	var lastLoss float64
	start := time.Now()
	res, err := svc.Train(ctx, dir, func(epoch, total int, loss float64) {
		lastLoss = loss
		bar.EwmaIncrement(time.Since(start))
		start = time.Now()
	})
	if err != nil {
		bar.Abort(true)
		p.Wait()
		fail("Training failed", err)
	}
	p.Wait()
	logger.GetLogger().Debugf("Last epoch loss %.5f", lastLoss)
	return res
}

func handleGenerate(ctx context.Context, args []string) {
	positional, flagArgs := splitArgs(args)

	genCmd := flag.NewFlagSet("generate", flag.ExitOnError)
	modelRef := genCmd.String("model", "", "Stored model ID or name")
	corpus := genCmd.String("corpus", "", "Train a fresh model on this directory first")
	epochs := genCmd.Int("epochs", 20, "Training epochs when --corpus is used")
	genCmd.Parse(flagArgs)

	if len(positional) < 1 || (*modelRef == "") == (*corpus == "") {
		fmt.Println("Usage: acousticlab generate <seed_audio> (--model <id|name> | --corpus <dir>)")
		os.Exit(1)
	}

	svc := mustCreateService(acousticlab.WithEpochs(*epochs))
	defer svc.Close()

	if *modelRef != "" {
		info, err := svc.UseModel(*modelRef)
		if err != nil {
			fail("Failed to load model", err)
		}
		fmt.Printf("🧠 Using model %q (%d frames x %d coefficients)\n", info.Name, info.MaxLen, info.InputSize)
	} else {
		train(ctx, svc, *corpus, *epochs)
	}

	fmt.Println("🎵 Loading seed audio...")
	if _, err := svc.Load(ctx, positional[0]); err != nil {
		fail("Failed to load seed", err)
	}

	fmt.Println("🎛  Synthesizing...")
	path, err := svc.Generate(ctx)
	if err != nil {
		if errors.Is(err, acousticlab.ErrModelNotTrained) {
			fail("Generation failed", fmt.Errorf("%w (train one or pass --model)", err))
		}
		fail("Generation failed", err)
	}
	fmt.Printf("\n✅ Generated audio written to %s\n", path)
}

func handlePlay(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: acousticlab play <audio_file>")
		os.Exit(1)
	}

	svc := mustCreateService()
	defer svc.Close()

	if _, err := svc.Load(ctx, args[0]); err != nil {
		fail("Failed to load audio", err)
	}
	path, err := svc.PreparePlayback()
	if err != nil {
		fail("Failed to prepare playback", err)
	}
	fmt.Printf("🔊 Playback file ready: %s\n", path)
}

func handleModels(args []string) {
	svc := mustCreateService()
	defer svc.Close()

	if len(args) > 0 && args[0] == "delete" {
		if len(args) < 2 {
			fmt.Println("Usage: acousticlab models delete <id|name>")
			os.Exit(1)
		}
		if err := svc.DeleteModel(args[1]); err != nil {
			fail("Failed to delete model", err)
		}
		fmt.Printf("\n✅ Deleted model %s\n", args[1])
		logger.GetLogger().Infof("Deleted model %s", args[1])
		return
	}

	models, err := svc.ListModels()
	if err != nil {
		fail("Failed to list models", err)
	}
	if len(models) == 0 {
		fmt.Println("\n📭 No models in database")
		return
	}

	fmt.Printf("\n📚 Found %d model(s):\n\n", len(models))
	for i, m := range models {
		fmt.Printf("%d. %s (ID: %s)\n", i+1, m.Name, m.ID)
		fmt.Printf("   %d coefficients x %d frames, hidden %d, %s weights\n", m.InputSize, m.MaxLen, m.HiddenSize, m.Precision)
		fmt.Printf("   %d epochs over %d files, final loss %.5f\n", m.Epochs, m.CorpusSize, m.FinalLoss)
		fmt.Printf("   Created: %s\n\n", m.CreatedAt.Local().Format(time.DateTime))
	}
}

func handleHistory(args []string) {
	histCmd := flag.NewFlagSet("history", flag.ExitOnError)
	limit := histCmd.Int("limit", 20, "Number of entries to show (0 for all)")
	histCmd.Parse(args)

	svc := mustCreateService()
	defer svc.Close()

	entries, err := svc.History(*limit)
	if err != nil {
		fail("Failed to read history", err)
	}
	if len(entries) == 0 {
		fmt.Println("\n📭 No analyses recorded")
		return
	}

	fmt.Printf("\n📚 Last %d analysis(es):\n\n", len(entries))
	for _, e := range entries {
		fmt.Printf("%s  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Path)
		key := "none"
		if e.Key != "" {
			key = e.Key + " " + e.Mode
		}
		fmt.Printf("   %d Hz, %s, %.1f BPM, %d beats, key %s\n\n",
			e.SampleRate, e.Duration.Round(time.Millisecond), e.Tempo, len(e.Beats), key)
	}
}

func formatFloats(vals []float64, format string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf(format, v)
	}
	return strings.Join(parts, ", ")
}

func printUsage() {
	fmt.Println("AcousticLab - Audio Analysis and Generation CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>          Path to SQLite database (env: ACOUSTICLAB_DB_PATH, default: acousticlab.sqlite3)")
	fmt.Println("  --temp <dir>         Directory for the playback file (env: ACOUSTICLAB_TEMP_DIR)")
	fmt.Println("  --out <dir>          Directory for generated audio (env: ACOUSTICLAB_OUT_DIR, default: .)")
	fmt.Println("  --rate <hz>          Training and generation sample rate (default: 22050)")
	fmt.Println("  --iterations <n>     Griffin-Lim iterations (default: 64)")
	fmt.Println("\nUsage:")
	fmt.Println("  acousticlab [global-options] analyze <audio_file>")
	fmt.Println("  acousticlab [global-options] spectrogram <audio_file> [-o mel.png] [--scale n] [--waveform wave.png]")
	fmt.Println("  acousticlab [global-options] train <corpus_dir> [--save name] [--epochs n] [--hidden n] [--precision float32|float16]")
	fmt.Println("  acousticlab [global-options] generate <seed_audio> (--model <id|name> | --corpus <dir>)")
	fmt.Println("  acousticlab [global-options] play <audio_file>")
	fmt.Println("  acousticlab [global-options] models [delete <id|name>]")
	fmt.Println("  acousticlab [global-options] history [--limit n]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Train on a folder and keep the model")
	fmt.Println("  acousticlab train ./loops --save loops --epochs 40")
	fmt.Println()
	fmt.Println("  # Generate from a stored model")
	fmt.Println("  acousticlab --out ./renders generate seed.wav --model loops")
}
