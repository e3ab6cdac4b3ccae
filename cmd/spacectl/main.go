package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"live_spaces/internal/config"
	"live_spaces/internal/domain"
	"live_spaces/internal/live/network"
	"live_spaces/internal/live/presence"
	"live_spaces/internal/live/session"
	"live_spaces/internal/live/transport"
	"live_spaces/pkg/logger"

	"github.com/spf13/pflag"
)

const usage = `commands:
  mute     toggle the microphone
  video    toggle the camera
  video!   toggle the camera, accepting cellular data use
  status   print the current state
  leave    leave the space
  end      end the space for everyone (host only)`

func main() {
	cfg := config.DefaultClientConfig()
	fs := pflag.NewFlagSet("spacectl", pflag.ExitOnError)
	cfg.AddFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := network.NewMonitor(domain.NetworkStatus{})
	var types network.TypeResolver = network.NewInterfaceResolver()
	if cfg.NetworkType != "auto" {
		types = network.FixedType(cfg.NetworkType)
	}
	poller := network.NewPoller(monitor,
		network.DialProber{Addr: cfg.ProbeAddr, Timeout: cfg.ProbeTimeout},
		types, cfg.PollInterval, appLogger.With("component", "network"))
	poller.Check(ctx)
	go poller.Run(ctx)

	sdk, err := transport.NewLiveKit(appLogger.With("component", "livekit"), strings.HasPrefix(cfg.LogLevel, "debug"))
	if err != nil {
		appLogger.Fatal("Failed to set up media transport", "error", err)
	}

	api := session.NewAPIClient(cfg.ServerURL, cfg.AccessToken).WithInviteCode(cfg.InviteCode)

	var presenceFn session.PresenceFunc
	if cfg.Presence {
		channel := presence.NewChannel(cfg.ServerURL, cfg.AccessToken, appLogger.With("component", "presence")).
			WithInviteCode(cfg.InviteCode)
		presenceFn = func(ctx context.Context, sessionID string) (session.PresenceFeed, error) {
			sub, err := channel.Subscribe(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			return sub, nil
		}
	}

	ctrl := session.New(session.Config{
		Tokens:    api,
		Ender:     api,
		Transport: transport.NewClient(sdk, appLogger.With("component", "transport")),
		Network:   monitor,
		Presence:  presenceFn,
		Log:       appLogger.With("component", "session"),
	})
	defer ctrl.Close()

	ended := watchUpdates(ctrl.Updates(), os.Stdout)
	go printNotices(ctrl.Notices())

	if err := ctrl.Join(ctx, cfg.Space); err != nil && !errors.Is(err, session.ErrNetworkUnavailable) {
		appLogger.Fatal("Failed to join", "error", err)
	}
	fmt.Println(usage)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			appLogger.Info("Interrupted, leaving")
			return
		case <-ended:
			appLogger.Info("Session is over, exiting")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handle(ctx, ctrl, line); done {
				return
			}
		}
	}
}

// handle runs one command and reports whether the client should exit.
func handle(ctx context.Context, ctrl *session.Controller, line string) bool {
	cmdCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch line {
	case "":
	case "mute":
		muted, err := ctrl.ToggleMute(cmdCtx)
		report(err, "muted=%t", muted)
	case "video", "video!":
		on, err := ctrl.ToggleVideo(cmdCtx, line == "video!")
		if errors.Is(err, session.ErrConfirmationRequired) {
			fmt.Println("on cellular data: type 'video!' to turn the camera on anyway")
			return false
		}
		report(err, "video=%t", on)
	case "status":
		printSnapshot(ctrl.Snapshot())
	case "leave":
		_ = ctrl.Leave(cmdCtx)
		return true
	case "end":
		err := ctrl.EndSession(cmdCtx)
		if errors.Is(err, session.ErrNotHost) {
			fmt.Println(err)
			return false
		}
		report(err, "space ended")
		return true
	default:
		fmt.Println(usage)
	}
	return false
}

func report(err error, format string, args ...interface{}) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf(format+"\n", args...)
}

// watchUpdates prints state changes. The returned channel closes once
// the session reaches Disconnected, which is terminal.
func watchUpdates(updates <-chan session.Snapshot, out io.Writer) <-chan struct{} {
	ended := make(chan struct{})
	go func() {
		var last domain.ConnectionState = -1
		closed := false
		for snap := range updates {
			if snap.State == last {
				continue
			}
			last = snap.State
			fmt.Fprintf(out, "[%s] %s\n", time.Now().Format("15:04:05"), snap.State)
			if snap.State == domain.StateDisconnected && !closed {
				closed = true
				close(ended)
			}
		}
	}()
	return ended
}

func printNotices(notices <-chan session.Notice) {
	for n := range notices {
		if n.Err != nil {
			fmt.Printf("! %s: %v\n", n.Message, n.Err)
			continue
		}
		fmt.Printf("! %s\n", n.Message)
	}
}

func printSnapshot(s session.Snapshot) {
	fmt.Printf("state=%s space=%s role=%s muted=%t video=%t quality=%s network=%s/%t\n",
		s.State, s.SessionID, s.Role, s.Muted, s.HasVideo, s.Quality, s.Network.Type, s.Network.Connected)
	for _, p := range s.Participants {
		fmt.Printf("  %-36s %-11s muted=%-5t video=%-5t online=%-5t %s\n",
			p.UserID, p.Role, p.Muted, p.HasVideo, p.Online, p.Connection)
	}
	if s.Err != nil {
		fmt.Println("  last error:", s.Err)
	}
}
