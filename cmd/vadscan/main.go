// Command vadscan runs a WAV file through the denoise processor and the VAD
// detector offline. Frames and voice segments are printed as JSON lines,
// followed by a summary line.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/denoise/gate"
	"github.com/skypro1111/denoise-service/internal/denoise/native"
	"github.com/skypro1111/denoise-service/internal/vad"
)

// chunkFrames is how many sample frames are fed to the assembler at once.
const chunkFrames = 4096

type options struct {
	input          string
	engine         string
	floorGain      float64
	denoise        bool
	denoiseChannel int
	printFrames    bool
	vad            vad.Config
}

// frameLine is printed per frame with -frames.
type frameLine struct {
	Type     string  `json:"type"`
	Frame    uint64  `json:"frame"`
	Score    float32 `json:"score"`
	Smoothed float32 `json:"smoothed"`
	Voice    bool    `json:"voice"`
}

// segmentLine is printed for every voice segment.
type segmentLine struct {
	Type string `json:"type"`
	vad.Segment
	StartSeconds    float64 `json:"start_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// summaryLine is printed last.
type summaryLine struct {
	Type           string                 `json:"type"`
	File           string                 `json:"file"`
	WAV            *audio.WAVInfo         `json:"wav"`
	Engine         string                 `json:"engine"`
	DenoiseChannel int                    `json:"denoise_channel"`
	Processor      denoise.ProcessorStats `json:"processor"`
	VAD            vad.Stats              `json:"vad"`
	Segments       int                    `json:"segments"`
	TrailingSample int                    `json:"trailing_samples"`
}

func main() {
	defaults := gate.DefaultConfig()

	var opts options
	flag.StringVar(&opts.input, "in", "", "Input WAV file (16-bit PCM or 32-bit float, 44100 Hz)")
	flag.StringVar(&opts.engine, "engine", config.EngineGate, "Denoise engine: gate or rnnoise")
	flag.Float64Var(&opts.floorGain, "floor-gain", defaults.FloorGain, "Gate engine gain for frames without voice")
	flag.BoolVar(&opts.denoise, "denoise", true, "Write denoised samples back into each frame")
	flag.IntVar(&opts.denoiseChannel, "channel", 0, "Channel to denoise and analyse")
	flag.BoolVar(&opts.printFrames, "frames", true, "Print one JSON line per frame")
	threshold := flag.Float64("threshold", 0.5, "VAD threshold (0.0 - 1.0)")
	smoothing := flag.Float64("smoothing", 0.6, "VAD score smoothing factor (0.0 - 1.0]")
	flag.IntVar(&opts.vad.MinSpeechFrames, "min-speech", 3, "Frames above threshold that open a segment")
	flag.IntVar(&opts.vad.MinSilenceFrames, "min-silence", 10, "Frames below threshold that close a segment")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if opts.input == "" && flag.NArg() > 0 {
		opts.input = flag.Arg(0)
	}
	if opts.input == "" {
		fmt.Fprintln(os.Stderr, "usage: vadscan [flags] -in file.wav")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts.vad.Threshold = float32(*threshold)
	opts.vad.Smoothing = float32(*smoothing)
	opts.vad.FrameLength = denoise.SampleLength
	opts.vad.SampleRate = denoise.SampleRate

	if err := run(opts, logger, json.NewEncoder(os.Stdout)); err != nil {
		logger.Error("Scan failed", slog.String("file", opts.input), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newEngine(kind string, floorGain float64) (denoise.Engine, error) {
	switch kind {
	case config.EngineGate:
		cfg := gate.DefaultConfig()
		cfg.FloorGain = floorGain
		return gate.New(cfg)
	case config.EngineRNNoise:
		return native.New()
	default:
		return nil, fmt.Errorf("unknown engine '%s'", kind)
	}
}

func run(opts options, logger *slog.Logger, out *json.Encoder) error {
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	samples, info, err := audio.DecodeWAV(data)
	if err != nil {
		return err
	}
	if info.SampleRate != denoise.SampleRate {
		return fmt.Errorf("sample rate must be %d Hz, got %d", denoise.SampleRate, info.SampleRate)
	}
	channels := int(info.Channels)
	if opts.denoiseChannel < 0 || opts.denoiseChannel >= channels {
		return fmt.Errorf("channel must be between 0 and %d, got %d", channels-1, opts.denoiseChannel)
	}

	logger.Debug("Input decoded",
		slog.Int("channels", channels),
		slog.Int("frames", info.NumFrames),
		slog.Float64("duration", info.Duration),
	)

	engine, err := newEngine(opts.engine, opts.floorGain)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	processor, err := denoise.NewProcessor(engine, denoise.WithLogger(logger))
	if err != nil {
		return err
	}
	defer processor.Destroy()

	detector, err := vad.NewDetector(opts.vad)
	if err != nil {
		return err
	}

	pool, err := audio.NewFramePool(denoise.SampleLength, channels*2)
	if err != nil {
		return err
	}

	var (
		frameIndex = make([]uint64, channels)
		segments   int
		procErr    error
	)

	emit := func(seg *vad.Segment) error {
		segments++
		return out.Encode(segmentLine{
			Type:            "segment",
			Segment:         *seg,
			StartSeconds:    seg.Start.Seconds(),
			DurationSeconds: seg.Duration.Seconds(),
		})
	}

	handler := func(channel int, frame []float32) {
		defer pool.Put(frame)

		index := frameIndex[channel]
		frameIndex[channel]++
		if channel != opts.denoiseChannel || procErr != nil {
			return
		}

		score, err := processor.ProcessFrame(frame, opts.denoise)
		if err != nil {
			procErr = err
			return
		}
		res := detector.Process(score)

		if opts.printFrames {
			if err := out.Encode(frameLine{Type: "frame", Frame: index, Score: score, Smoothed: res.Smoothed, Voice: res.HasVoice}); err != nil {
				procErr = err
				return
			}
		}
		if res.Closed != nil {
			if err := emit(res.Closed); err != nil {
				procErr = err
			}
		}
	}

	assembler, err := audio.NewMultiChannelAssembler(denoise.SampleLength, channels, pool, handler)
	if err != nil {
		return err
	}

	step := chunkFrames * channels
	for start := 0; start < len(samples) && procErr == nil; start += step {
		end := min(start+step, len(samples))
		if err := assembler.AcceptInterleaved(samples[start:end]); err != nil {
			return err
		}
	}
	if procErr != nil {
		return fmt.Errorf("processing failed: %w", procErr)
	}

	if seg := detector.Flush(); seg != nil {
		if err := emit(seg); err != nil {
			return err
		}
	}

	return out.Encode(summaryLine{
		Type:           "summary",
		File:           opts.input,
		WAV:            info,
		Engine:         opts.engine,
		DenoiseChannel: opts.denoiseChannel,
		Processor:      processor.Stats(),
		VAD:            detector.Stats(),
		Segments:       segments,
		TrailingSample: assembler.Pending(opts.denoiseChannel),
	})
}
