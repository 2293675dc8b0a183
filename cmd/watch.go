package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"github.com/kozaktomas/class-attendance/internal/live"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Take attendance live from a classroom camera",
	Long: `Watch a camera snapshot and mark recognized students present.

Candidates for the section are downloaded from the attendance server and
matched locally. A face that stays in place is matched once per second, each
student is written at most once per cool-down, and writes are batched.

Signals:
  SIGUSR1  pause or resume detection (clears tracking and cool-downs)
  SIGHUP   reload candidates from the server

Examples:
  # Watch a file that a capture tool keeps overwriting
  attendance watch --section CSE-3A --subject Networks --slot P2 --snapshot-file /run/cam/latest.jpg

  # Poll an IP camera at the low quality preset
  attendance watch --section CSE-3A --snapshot-url http://10.0.0.12/snapshot.jpg --quality low`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("section", "", "Section (group tag) to take attendance for")
	watchCmd.Flags().String("subject", "", "Subject (default \"Default\")")
	watchCmd.Flags().String("slot", "", "Period or time slot (default \"Default\")")
	watchCmd.Flags().String("date", "", "Attendance date YYYY-MM-DD (default: server's today)")
	watchCmd.Flags().String("quality", "medium", "Detection rate: low, medium or high")
	watchCmd.Flags().String("snapshot-file", "", "Image file to re-read every pass")
	watchCmd.Flags().String("snapshot-url", "", "URL returning a still frame")
	watchCmd.Flags().String("server", "", "Attendance server URL (default ATTENDANCE_SERVER_URL)")
	watchCmd.Flags().Float64("threshold", 0, "Match threshold (default from config for the section)")
	watchCmd.Flags().Bool("json", false, "Print events as JSON lines")
	_ = watchCmd.MarkFlagRequired("section")
}

// watchEvent is the JSON form of a live event.
type watchEvent struct {
	Type     string   `json:"type"`
	Time     string   `json:"time"`
	UID      string   `json:"uid,omitempty"`
	Name     string   `json:"name,omitempty"`
	Distance float64  `json:"distance,omitempty"`
	Position string   `json:"position,omitempty"`
	Marked   []string `json:"marked,omitempty"`
	Unknown  []string `json:"unknown,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newFrameSource(cmd *cobra.Command) (live.FrameSource, error) {
	file := mustGetString(cmd, "snapshot-file")
	url := mustGetString(cmd, "snapshot-url")
	switch {
	case file != "" && url != "":
		return nil, errors.New("use either --snapshot-file or --snapshot-url, not both")
	case file != "":
		return live.NewFileSource(file, true), nil
	case url != "":
		return live.NewHTTPSource(url, 5*time.Second), nil
	}
	return nil, errors.New("one of --snapshot-file or --snapshot-url is required")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	section := mustGetString(cmd, "section")
	jsonOutput := mustGetBool(cmd, "json")

	interval, err := cfg.Quality.Interval(mustGetString(cmd, "quality"))
	if err != nil {
		return err
	}
	source, err := newFrameSource(cmd)
	if err != nil {
		return err
	}
	serverURL := mustGetString(cmd, "server")
	if serverURL == "" {
		serverURL = cfg.Live.ServerURL
	}
	threshold := mustGetFloat64(cmd, "threshold")
	if threshold <= 0 {
		threshold = cfg.Match.ThresholdFor(section)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	factory, err := recognition.NewFactory(cfg.Match.Strategy, logger)
	if err != nil {
		return err
	}

	session, err := live.NewSession(live.SessionConfig{
		Section:         section,
		Subject:         mustGetString(cmd, "subject"),
		Slot:            mustGetString(cmd, "slot"),
		Date:            mustGetString(cmd, "date"),
		Threshold:       threshold,
		FrameInterval:   interval,
		SweepInterval:   cfg.Live.SweepInterval,
		RefreshInterval: cfg.Live.RefreshInterval,
		WriteDebounce:   cfg.Live.WriteDebounce,
		Tracking:        live.OptionsFromConfig(cfg.Live),
	}, live.SessionDeps{
		Source:   source,
		Detector: detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout, logger),
		Loader:   live.NewRemoteClient(serverURL, 0, logger),
		Sink:     live.NewRemoteClient(serverURL, 0, logger),
		Factory:  factory,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !jsonOutput {
		fmt.Printf("Loading candidates for %s from %s...\n", section, serverURL)
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start live session: %w", err)
	}
	if !jsonOutput {
		fmt.Printf("Watching with %d enrolled students, one pass every %v. Press Ctrl+C to stop.\n",
			session.CandidateCount(), interval)
	}

	control := make(chan os.Signal, 1)
	signal.Notify(control, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(control)

	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Println("\nStopping...")
			}
			return nil

		case sig := <-control:
			handleWatchSignal(ctx, session, sig, logger)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if jsonOutput {
				if err := outputJSON(toWatchEvent(ev)); err != nil {
					return err
				}
				continue
			}
			printWatchEvent(ev)
		}
	}
}

func handleWatchSignal(ctx context.Context, session *live.Session, sig os.Signal, logger *zap.Logger) {
	var err error
	switch sig {
	case syscall.SIGHUP:
		err = session.Reload(ctx)
		if err == nil {
			fmt.Printf("Reloaded %d candidates\n", session.CandidateCount())
		}
	case syscall.SIGUSR1:
		if session.State() == live.StatePaused {
			err = session.Resume()
		} else {
			err = session.Pause()
		}
		if err == nil {
			fmt.Printf("Detection %s\n", session.State())
		}
	}
	if err != nil {
		logger.Warn("signal handling failed", zap.Stringer("signal", sig), zap.Error(err))
	}
}

func toWatchEvent(ev live.Event) watchEvent {
	out := watchEvent{Type: string(ev.Type), Time: ev.Time.Format(time.RFC3339)}
	switch ev.Type {
	case live.EventRecognized, live.EventUnknown:
		out.UID = ev.Face.ExternalUID
		out.Name = ev.Face.Name
		out.Distance = ev.Face.Distance
		out.Position = ev.Face.SpatialKey
	case live.EventMarked:
		out.Marked = ev.Result.Marked
		out.Unknown = ev.Result.Unknown
		out.Failed = ev.Result.Failed
	case live.EventError:
		out.Error = ev.Err.Error()
	}
	return out
}

func printWatchEvent(ev live.Event) {
	ts := ev.Time.Local().Format("15:04:05")
	switch ev.Type {
	case live.EventRecognized:
		fmt.Printf("[%s] recognized %s %s (distance %.3f)\n", ts, ev.Face.ExternalUID, ev.Face.Name, ev.Face.Distance)
	case live.EventUnknown:
		fmt.Printf("[%s] unknown face at %s\n", ts, ev.Face.SpatialKey)
	case live.EventMarked:
		fmt.Printf("[%s] marked present: %v", ts, ev.Result.Marked)
		if len(ev.Result.Unknown) > 0 {
			fmt.Printf(", not enrolled: %v", ev.Result.Unknown)
		}
		if len(ev.Result.Failed) > 0 {
			fmt.Printf(", failed: %v", ev.Result.Failed)
		}
		fmt.Println()
	case live.EventError:
		fmt.Printf("[%s] error: %v\n", ts, ev.Err)
	}
}
