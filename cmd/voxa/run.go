package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxa-go/voxa/internal/dotenv"
	"github.com/voxa-go/voxa/pkg/backend"
	"github.com/voxa-go/voxa/pkg/core/intent"
	"github.com/voxa-go/voxa/pkg/core/recovery"
	"github.com/voxa-go/voxa/pkg/core/session"
	"github.com/voxa-go/voxa/pkg/core/speech"
	"github.com/voxa-go/voxa/pkg/core/speech/stt"
	"github.com/voxa-go/voxa/pkg/core/speech/tts"
	"github.com/voxa-go/voxa/pkg/core/turn"
	redisstore "github.com/voxa-go/voxa/pkg/store/redis"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the voice interaction loop",
	RunE:  runLoop,
}

func init() {
	runCmd.Flags().String("audio-in", "-", "audio input: '-' for stdin or a path (16kHz 16-bit mono PCM)")
	runCmd.Flags().String("audio-out", "", "audio output path for synthesized speech (empty: discard)")
	runCmd.Flags().String("keywords", "", "YAML file overriding the confirmation keywords")
	runCmd.Flags().String("messages", "", "YAML file overriding the spoken recovery phrases")
	runCmd.Flags().Bool("resume", false, "restore the previous session from the durable store")
	runCmd.Flags().Bool("continuous", true, "resume listening after each spoken answer")
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	apiKey := dotenv.String("VOXA_API_KEY", "")
	if apiKey == "" {
		return fmt.Errorf("VOXA_API_KEY is required")
	}
	cartesiaKey := dotenv.String("CARTESIA_API_KEY", "")
	if cartesiaKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}

	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	sess := session.New(store,
		session.WithLogger(logger),
		session.WithPersistDebounce(dotenv.Duration("VOXA_PERSIST_DEBOUNCE", 300*time.Millisecond)),
	)
	defer sess.Close()

	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		if err := sess.Restore(cmd.Context()); err != nil {
			logger.Warn("session restore failed, starting fresh", "error", err)
		}
	}

	recognizer, err := buildRecognizer(cmd, cartesiaKey)
	if err != nil {
		return err
	}
	synthesizer, sinkClose, err := buildSynthesizer(cmd, cartesiaKey)
	if err != nil {
		return err
	}
	defer sinkClose()

	voice := speech.NewCoordinator(recognizer, synthesizer,
		speech.WithLogger(logger),
		speech.WithSettleDelay(dotenv.Duration("VOXA_SETTLE_DELAY", time.Second)),
	)
	engineOpts := []recovery.EngineOption{recovery.WithLogger(logger)}
	if path, _ := cmd.Flags().GetString("messages"); path != "" {
		overrides, err := recovery.LoadMessages(path)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		engineOpts = append(engineOpts, recovery.WithMessages(overrides))
	}
	engine := recovery.NewEngine(sess, voice, engineOpts...)

	classifier, err := buildClassifier(cmd)
	if err != nil {
		return err
	}

	api := backend.NewClient(
		dotenv.String("VOXA_BACKEND_URL", "http://localhost:8080"),
		backend.WithAPIKey(apiKey),
		backend.WithLogger(logger),
	)

	continuous, _ := cmd.Flags().GetBool("continuous")
	if !cmd.Flags().Changed("continuous") {
		continuous = dotenv.Bool("VOXA_CONTINUOUS", continuous)
	}
	orchOpts := []turn.Option{
		turn.WithLogger(logger),
		turn.WithContinuousListening(continuous),
		turn.WithUserID(dotenv.String("VOXA_USER_ID", "")),
		turn.WithUnknownReplyHandler(func(transcript string) {
			logger.Info("could not understand the reply, please confirm or cancel", "transcript", transcript)
		}),
		turn.WithUserActionHandler(func(message string) {
			logger.Warn("action required", "message", message)
		}),
	}
	if ack := dotenv.String("VOXA_CANCEL_ACK", ""); ack != "" {
		orchOpts = append(orchOpts, turn.WithCancelAck(ack))
	}
	orch := turn.New(sess, voice, engine, classifier, api, orchOpts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printEvents(sess, logger)

	logger.Info("session ready", "session_id", sess.ID())
	if err := orch.BeginTurn(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	orch.CancelTurn(context.Background())
	voice.ForceStopAll()
	return sess.Flush(context.Background())
}

// openStore picks the durable store: Redis when an address is configured,
// otherwise in-memory.
func openStore(cmd *cobra.Command) (session.Store, func(), error) {
	addr, _ := cmd.Flags().GetString("redis")
	if addr == "" {
		addr = dotenv.String("VOXA_REDIS_ADDR", "")
	}
	if addr == "" {
		return session.NewMemoryStore(), func() {}, nil
	}

	store := redisstore.New(addr,
		dotenv.String("VOXA_REDIS_PASSWORD", ""),
		dotenv.Int("VOXA_REDIS_DB", 0),
	)
	return store, func() { store.Close() }, nil
}

func buildRecognizer(cmd *cobra.Command, apiKey string) (*stt.Recognizer, error) {
	audioIn, _ := cmd.Flags().GetString("audio-in")
	var source stt.SourceFunc
	if audioIn == "-" {
		source = func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(os.Stdin), nil
		}
	} else {
		source = func(context.Context) (io.ReadCloser, error) {
			return os.Open(audioIn)
		}
	}

	return stt.New(apiKey, source,
		stt.WithLanguage(dotenv.String("VOXA_STT_LANGUAGE", "en")),
		stt.WithSampleRate(dotenv.Int("VOXA_STT_SAMPLE_RATE", 16000)),
	), nil
}

func buildSynthesizer(cmd *cobra.Command, apiKey string) (*tts.Synthesizer, func(), error) {
	audioOut, _ := cmd.Flags().GetString("audio-out")

	var sink io.Writer = io.Discard
	cleanup := func() {}
	if audioOut != "" {
		f, err := os.OpenFile(audioOut, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open audio output: %w", err)
		}
		sink = f
		cleanup = func() { f.Close() }
	}

	opts := []tts.Option{
		tts.WithLanguage(dotenv.String("VOXA_TTS_LANGUAGE", "")),
	}
	if voice := dotenv.String("VOXA_TTS_VOICE", ""); voice != "" {
		opts = append(opts, tts.WithVoice(voice))
	}
	return tts.New(apiKey, sink, opts...), cleanup, nil
}

func buildClassifier(cmd *cobra.Command) (*intent.Classifier, error) {
	path, _ := cmd.Flags().GetString("keywords")
	if path == "" {
		return intent.NewClassifier(), nil
	}
	keywords, err := intent.LoadKeywords(path)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}
	return intent.NewClassifier(intent.WithKeywords(keywords)), nil
}

// printEvents mirrors session events to the log so the turn cycle is
// observable.
func printEvents(sess *session.Session, logger *slog.Logger) {
	for event := range sess.Events() {
		switch e := event.(type) {
		case *session.StateChangedEvent:
			logger.Info("state changed", "from", e.From.String(), "to", e.To.String())
		case *session.ConfirmRequestedEvent:
			logger.Info("confirmation requested", "text", e.Text)
		case *session.ErrorSetEvent:
			logger.Warn("session error", "message", e.Message)
		case *session.ResetEvent:
			logger.Info("session reset", "session_id", e.SessionID)
		default:
			logger.Debug("session event", "type", event.EventType())
		}
	}
}
