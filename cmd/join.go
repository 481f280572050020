package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/grovetools/meetbot/cli"
	"github.com/grovetools/meetbot/config"
	"github.com/grovetools/meetbot/errors"
	"github.com/grovetools/meetbot/internal/control/server"
	"github.com/grovetools/meetbot/internal/control/store"
	"github.com/grovetools/meetbot/internal/pidfile"
	"github.com/grovetools/meetbot/internal/stopfile"
	"github.com/grovetools/meetbot/logging"
	"github.com/grovetools/meetbot/pkg/botapi"
	"github.com/grovetools/meetbot/pkg/capture"
	"github.com/grovetools/meetbot/pkg/diagnostics"
	"github.com/grovetools/meetbot/pkg/models"
	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/grovetools/meetbot/pkg/report"
	"github.com/grovetools/meetbot/pkg/session"
	"github.com/grovetools/meetbot/pkg/surface"
	"github.com/grovetools/meetbot/pkg/upload"
	"github.com/grovetools/meetbot/state"
	"github.com/grovetools/meetbot/util/pathutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// BearerTokenEnv names the variable holding the bot API bearer token.
const BearerTokenEnv = "MEETBOT_BEARER_TOKEN"

type joinOptions struct {
	url      string
	name     string
	provider string
	botID    string
	eventID  string
	userID   string
	teamID   string
}

// NewJoinCmd creates the `join` command.
func NewJoinCmd() *cobra.Command {
	var opts joinOptions
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a meeting and record it",
		Long: `Joins one meeting as a bot, waits in the lobby until admitted, records
until the meeting goes quiet or empties, and uploads the recording.

The session ends early on SIGINT/SIGTERM, 'meetbot stop', a POST to the
control socket, or creation of the configured stop file.

Examples:
  # Record a Telemost meeting
  meetbot join --provider telemost --url https://telemost.yandex.ru/j/12345 --bot-id bot-1

  # Use a custom display name and report to the backend
  MEETBOT_BEARER_TOKEN=... meetbot join --provider telemost --url ... --name "Notes" --event-id ev-9
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Meeting URL")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name of the bot")
	cmd.Flags().StringVar(&opts.provider, "provider", string(models.ProviderTelemost), "Meeting provider: google, microsoft, zoom, telemost")
	cmd.Flags().StringVar(&opts.botID, "bot-id", "", "Bot identifier used for reporting, the pid file and the control socket")
	cmd.Flags().StringVar(&opts.eventID, "event-id", "", "Calendar event identifier")
	cmd.Flags().StringVar(&opts.userID, "user-id", "", "Owner of the recording")
	cmd.Flags().StringVar(&opts.teamID, "team-id", "", "Team of the owner")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// trackedArtifact remembers where the recording ended up.
type trackedArtifact struct {
	*upload.Uploader
	result *upload.Result
}

func (a *trackedArtifact) Finalize(ctx context.Context) (*upload.Result, error) {
	res, err := a.Uploader.Finalize(ctx)
	a.result = res
	return res, err
}

func runJoin(cmd *cobra.Command, opts joinOptions) error {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cli.GetLogger(cmd, "meetbot")

	prov, err := models.ParseProvider(opts.provider)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid --provider")
	}

	pidPath := paths.PidFilePath(opts.botID)
	if err := pidfile.Acquire(pidPath); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Release(pidPath); err != nil {
			logger.Errorf("Failed to release pidfile: %v", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	sess := models.NewSession(prov)
	sess.BotID = opts.botID
	sess.EventID = opts.eventID
	sess.UserID = opts.userID
	sess.TeamID = opts.teamID
	sess.Name = opts.name
	sess.URL = opts.url
	logger = logger.WithFields(logrus.Fields{"bot_id": sess.BotID, "session": sess.CorrelationID})

	api := botapi.New(botapi.Options{
		BaseURL:     cfg.API.BaseURL,
		ServiceKey:  cfg.API.ServiceKey,
		BearerToken: os.Getenv(BearerTokenEnv),
		Timeout:     time.Duration(cfg.API.Timeout) * time.Second,
		Logger:      logging.NewLogger("botapi"),
	})
	if !api.Enabled() {
		logger.Info("No bot API configured, status reports are skipped")
	}

	sink, err := upload.NewSink(ctx, cfg.Storage)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to set up recording storage")
	}
	if closer, ok := sink.(io.Closer); ok {
		defer closer.Close()
	}
	uploader, err := upload.NewUploader(sink, upload.Options{
		Dir:      paths.ArtifactDir(),
		Folder:   cfg.Storage.Folder,
		UserID:   sess.UserID,
		BotID:    sess.BotID,
		Provider: prov,
		Logger:   logging.NewLogger("upload"),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create recording artifact")
	}
	artifact := &trackedArtifact{Uploader: uploader}

	debugSink := newDebugSink(ctx, cfg.Storage, logger)
	if closer, ok := debugSink.(io.Closer); ok {
		defer closer.Close()
	}
	diag := diagnostics.New(debugSink, diagnostics.Options{
		Enabled: cfg.Storage.DebugImagesEnabled(),
		Folder:  cfg.Storage.DebugFolder,
		UserID:  sess.UserID,
		BotID:   sess.BotID,
		Logger:  logging.NewLogger("diagnostics"),
	})

	st := store.New(sess)
	hostEnd := make(chan struct{})
	var endOnce sync.Once
	closeHostEnd := func(source string) {
		endOnce.Do(func() {
			logger.WithField("source", source).Info("Early end requested")
			close(hostEnd)
		})
	}
	requestEnd := func(source string) {
		if st.RequestEnd(source) {
			closeHostEnd(source)
		}
	}

	if cfg.Control.ControlEnabled() {
		srv := server.New(st, closeHostEnd, logging.NewLogger("control"))
		sockPath := controlSocketPath(cfg, sess.BotID)
		go func() {
			if err := srv.ListenAndServe(sockPath); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Warn("Control socket unavailable")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Control socket shutdown error: %v", err)
			}
			_ = os.Remove(sockPath)
		}()
	}

	if cfg.Control.StopFile != "" {
		stopPath, err := pathutil.Expand(cfg.Control.StopFile)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid control.stop_file")
		}
		watcher, err := stopfile.New(stopPath, func() { requestEnd("stopfile") }, logging.NewLogger("stopfile"))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to watch stop file")
		}
		watchCtx, cancelWatch := context.WithCancel(ctx)
		defer cancelWatch()
		go watcher.Start(watchCtx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("Received stop signal")
			requestEnd("signal")
		case <-done:
		}
	}()

	machine := &session.Machine{
		Launcher: &surface.ChromeLauncher{
			Console: logging.NewLogger("browser"),
			Logger:  logging.NewLogger("surface"),
		},
		Status:      api,
		Errors:      report.New(api, logging.NewLogger("report")),
		Diagnostics: diag,
		Observer:    st,
		Timings:     session.DefaultTimings(),
		Logger:      logger,
	}

	params := session.Params{
		Session:       sess,
		AdmissionWait: cfg.Session.AdmissionWait(),
		Launch: surface.LaunchOptions{
			ExecutablePath: cfg.Browser.ExecutablePath,
			Headless:       cfg.Browser.Headless,
			UserAgent:      cfg.Browser.UserAgent,
			LaunchTimeout:  time.Duration(cfg.Browser.LaunchTimeout) * time.Second,
		},
		Capture: capture.Config{
			ChunkInterval:    cfg.Recording.Chunk(),
			PrimaryMimeType:  cfg.Recording.PrimaryMimeType,
			FallbackMimeType: cfg.Recording.FallbackMimeType,
			MaxDuration:      cfg.Session.MaxDuration(),
			Inactivity:       cfg.Session.Inactivity(),
			ActivationDelay:  cfg.Session.ActivationDelay(),
		},
		Artifact: artifact,
		HostEnd:  hostEnd,
	}

	runErr := machine.Run(ctx, params)

	rec := sessionRecord(sess, st.Get(), artifact.result, runErr)
	if err := state.SaveLastSession(rec); err != nil {
		logger.WithError(err).Warn("Failed to save session record")
	}
	printSummary(cmd, rec)
	return runErr
}

// newDebugSink picks where failure screenshots go. Nil disables them.
func newDebugSink(ctx context.Context, cfg config.StorageConfig, log *logrus.Entry) upload.Sink {
	if !cfg.DebugImagesEnabled() {
		return nil
	}
	if cfg.DebugBucket != "" {
		sink, err := upload.NewGCSSink(ctx, cfg.DebugBucket)
		if err != nil {
			log.WithError(err).Warn("Debug screenshot bucket unavailable, screenshots disabled")
			return nil
		}
		return sink
	}
	if cfg.Backend == "local" {
		return &upload.LocalSink{Dir: filepath.Join(paths.StateDir(), "debug")}
	}
	return nil
}

func sessionRecord(sess *models.Session, snap store.Snapshot, res *upload.Result, runErr error) state.SessionRecord {
	rec := state.SessionRecord{
		BotID:         sess.BotID,
		EventID:       sess.EventID,
		Provider:      string(sess.Provider),
		URL:           sess.URL,
		CaptureReason: snap.CaptureReason,
		StartedAt:     sess.StartedAt,
		EndedAt:       time.Now(),
	}
	for _, token := range sess.History.Snapshot() {
		rec.Status = append(rec.Status, string(token))
	}
	if res != nil {
		rec.Location = res.Location
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

func printSummary(cmd *cobra.Command, rec state.SessionRecord) {
	pretty := logging.NewPrettyLogger().WithWriter(cmd.ErrOrStderr())
	if rec.Error != "" {
		pretty.WarnPretty(fmt.Sprintf("Session ended without a recording (%s)", lastStatus(rec)))
		return
	}
	pretty.Success("Recording saved")
	pretty.Field("Capture ended", rec.CaptureReason)
	pretty.Path("Location", rec.Location)
}

func lastStatus(rec state.SessionRecord) string {
	if len(rec.Status) == 0 {
		return "unknown"
	}
	return rec.Status[len(rec.Status)-1]
}
