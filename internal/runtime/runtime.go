package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/evaluate"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
)

// Runtime owns everything that lives for the whole process: telemetry, the
// optional HTTP surface, the event store and the bus. It runs one session.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	console    *Console
	httpServer *http.Server
	listener   net.Listener
	session    atomic.Pointer[Session]
	wg         sync.WaitGroup
	newID      func() string
}

func New(cfg config.Config, logger *slog.Logger, console *Console) *Runtime {
	console.ReferenceName = cfg.Transcript.ReferenceFile
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		console: console,
		newID:   uuid.NewString,
	}
}

// Run captures one session until ctx is cancelled or the source ends. The
// returned error is non-nil when the decoder or device could not be opened,
// the device was lost, or the transcript could not be written.
func (r *Runtime) Run(ctx context.Context) (Result, error) {
	if err := os.MkdirAll(r.cfg.Transcript.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create transcript dir: %w", err)
	}

	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return Result{}, fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.HTTP.Enabled {
		if err := r.startHTTP(tel.handler); err != nil {
			r.logger.Warn("http server unavailable, continuing without endpoints", slog.String("error", err.Error()))
		} else {
			defer r.stopHTTP()
		}
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		r.logger.Warn("event store unavailable, continuing without history", slog.String("error", err.Error()))
		store, _ = eventstore.Open(ctx, config.EventStoreConfig{}, r.logger)
	}
	defer store.Close()

	observers := []Observer{r.console}
	if store.Enabled() {
		observers = append(observers, &storeObserver{store: store, log: r.logger.With(slog.String("component", "eventstore"))})
	}
	if client, shutdown := r.connectBus(ctx); client != nil {
		defer shutdown()
		observers = append(observers, &busObserver{client: client, log: r.logger.With(slog.String("component", "bus"))})
	}

	format := audio.Format{
		SampleRate: r.cfg.Audio.SampleRate,
		Channels:   r.cfg.Audio.Channels,
		BlockSize:  r.cfg.Audio.BlockSize,
	}

	sttLog := r.logger.With(slog.String("component", "stt"))
	dec, err := stt.NewDecoder(r.cfg.STT, format.SampleRate, sttLog)
	if err != nil {
		return Result{}, fmt.Errorf("load decoder: %w", err)
	}
	recognizer := stt.NewRecognizer(dec, sttLog)
	defer func() {
		if err := recognizer.Close(); err != nil {
			r.logger.Warn("decoder close failed", slog.String("error", err.Error()))
		}
	}()

	src, device, err := r.newSource(format)
	if err != nil {
		return Result{}, err
	}
	policy, err := audio.ParseOverflowPolicy(r.cfg.Audio.Overflow)
	if err != nil {
		return Result{}, err
	}
	queue := audio.NewChunkQueue(r.cfg.Audio.QueueCapacity, policy,
		time.Duration(r.cfg.Audio.BlockTimeoutMS)*time.Millisecond)

	inst, err := newInstruments(tel.meter, queue)
	if err != nil {
		r.logger.Warn("failed to register pipeline metrics", slog.String("error", err.Error()))
	}
	defer inst.close()

	var recorder *audio.Recorder
	if path := r.cfg.Audio.RecordPath; path != "" {
		recorder, err = audio.NewRecorder(path, format)
		if err != nil {
			r.logger.Warn("recording disabled", slog.String("path", path), slog.String("error", err.Error()))
			recorder = nil
		}
	}

	tc := r.cfg.Transcript
	sess := &Session{
		ID:         r.newID(),
		Source:     src,
		Queue:      queue,
		Recognizer: recognizer,
		Transcript: transcript.NewAccumulator(),
		Store:      transcript.FileStore{Path: tc.TranscriptPath()},
		Evaluator: &evaluate.Evaluator{
			ReferencePath:  tc.ReferencePath(),
			HypothesisPath: tc.TranscriptPath(),
			Log:            evaluate.FileMetricsLog{Path: tc.MetricsPath()},
		},
		Recorder:  recorder,
		Observers: observers,
		Logger:    r.logger.With(slog.String("component", "session")),
		metrics:   inst,
	}
	r.session.Store(sess)

	if err := store.BeginSession(ctx, sess.ID, device, r.cfg.STT.Mode); err != nil {
		r.logger.Warn("event store begin session failed", slog.String("error", err.Error()))
	}
	r.logger.Info("session starting",
		slog.String("session_id", sess.ID),
		slog.String("device", device),
		slog.String("decoder", r.cfg.STT.Mode),
		slog.Int("sample_rate", format.SampleRate),
		slog.Int("block_size", format.BlockSize),
		slog.String("overflow", policy.String()),
	)

	res, err := sess.Run(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceLost) || errors.Is(err, audio.ErrDeviceOpen) {
			r.console.Warnf("Audio device failure: %v", err)
		}
		return res, err
	}
	r.console.Infof("Transcript saved to: %s", tc.TranscriptPath())
	if res.Dropped > 0 {
		r.console.Warnf("%d audio chunks were dropped because recognition fell behind", res.Dropped)
	}
	return res, nil
}

func (r *Runtime) newSource(format audio.Format) (audio.Source, string, error) {
	ac := r.cfg.Audio
	switch ac.Source {
	case "wav":
		return audio.NewWAVSource(ac.WAVPath, format, ac.Realtime), ac.WAVPath, nil
	case "exec":
		src, err := audio.NewExecCapture(ac.CaptureCommand, ac.DeviceFlag, ac.Device, format)
		if err != nil {
			return nil, "", err
		}
		device := ac.Device
		if device == "" {
			device = "default"
		}
		return src, device, nil
	default:
		return nil, "", fmt.Errorf("unknown audio source %q", ac.Source)
	}
}

// connectBus starts the embedded server when configured and connects to it.
// Bus failures are logged and the session runs without fan-out.
func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, func()) {
	cfg := r.cfg.Bus
	if !cfg.Enabled {
		return nil, nil
	}
	log := r.logger.With(slog.String("component", "bus"))
	embedded, err := natsserver.Start(cfg, log)
	if err != nil {
		log.Warn("embedded NATS server failed to start", slog.String("error", err.Error()))
		return nil, nil
	}
	if url := embedded.ClientURL(); url != "" {
		cfg.Servers = []string{url}
	}
	client, err := bus.Connect(ctx, cfg, log)
	if err != nil {
		log.Warn("bus unavailable, continuing without fan-out", slog.String("error", err.Error()))
		embedded.Shutdown()
		return nil, nil
	}
	return client, func() {
		client.Close()
		embedded.Shutdown()
	}
}

func (r *Runtime) startHTTP(metrics http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/session", r.handleSession)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.listener = ln
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server started", slog.String("addr", ln.Addr().String()))
	return nil
}

func (r *Runtime) stopHTTP() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
}

// Addr is the bound HTTP address, or "" when the HTTP server is off.
func (r *Runtime) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if sess := r.session.Load(); sess != nil && sess.State() == StateCapturing {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type sessionStatus struct {
	SessionID  string    `json:"session_id"`
	State      string    `json:"state"`
	Chunks     uint64    `json:"chunks"`
	Partials   uint64    `json:"partials"`
	Finals     uint64    `json:"finals"`
	Malformed  uint64    `json:"malformed"`
	Enqueued   uint64    `json:"enqueued"`
	Dropped    uint64    `json:"dropped"`
	QueueDepth int       `json:"queue_depth"`
	Transcript string    `json:"transcript_path"`
	Time       time.Time `json:"time"`
}

func (r *Runtime) handleSession(w http.ResponseWriter, _ *http.Request) {
	sess := r.session.Load()
	if sess == nil {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	stats := sess.Recognizer.Stats()
	status := sessionStatus{
		SessionID:  sess.ID,
		State:      sess.State().String(),
		Chunks:     stats.Chunks,
		Partials:   stats.Partials,
		Finals:     stats.Finals,
		Malformed:  stats.Malformed,
		Enqueued:   sess.Queue.Enqueued(),
		Dropped:    sess.Queue.Dropped(),
		QueueDepth: sess.Queue.Len(),
		Transcript: filepath.Clean(r.cfg.Transcript.TranscriptPath()),
		Time:       time.Now(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
