package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rtcbridge/sfuclient/internal/capture"
	"github.com/rtcbridge/sfuclient/internal/config"
	"github.com/rtcbridge/sfuclient/internal/quality"
	"github.com/rtcbridge/sfuclient/internal/rtc"
	"github.com/rtcbridge/sfuclient/internal/session"
	"github.com/rtcbridge/sfuclient/internal/signaling"
)

// Application holds the wired components for one run
type Application struct {
	config     *config.Config
	dispatcher *signaling.Client
	log        *zap.Logger
}

func main() {
	cfg := config.NewDefaultConfig()

	var subscribeTo string
	var presetName string
	flag.StringVar(&cfg.SignalAddr, "addr", cfg.SignalAddr, "signaling server address (host:port)")
	flag.StringVar(&cfg.RoutingID, "room", "", "routing id of the room to target")
	flag.StringVar(&subscribeTo, "subscribe", "", "media line id to subscribe to instead of publishing")
	flag.StringVar(&presetName, "preset", cfg.Capture.Preset.Name, "video quality preset")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	preset, err := quality.Lookup(presetName)
	if err != nil {
		logger.Fatal("invalid preset", zap.Error(err))
	}
	cfg.Capture.Preset = preset

	if cfg.RoutingID == "" {
		logger.Fatal("-room is required")
	}
	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher, err := signaling.Dial(ctx, cfg.SignalAddr)
	if err != nil {
		logger.Fatal("failed to reach signaling server", zap.Error(err))
	}
	defer dispatcher.Close()

	app := &Application{config: cfg, dispatcher: dispatcher, log: logger}

	if subscribeTo != "" {
		err = app.runSubscribe(ctx, subscribeTo)
	} else {
		err = app.runPublish(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("session failed", zap.Error(err))
	}
}

func (app *Application) runPublish(ctx context.Context) error {
	engine, err := capture.NewEngine(app.config.Capture)
	if err != nil {
		return err
	}

	factory := rtc.NewFactory(rtc.Config{
		ICEServers: app.config.ICEServers,
		Codec:      engine.Selector(),
	})

	s := session.NewPublishSession(app.dispatcher, engine, factory, app.config.Capture)
	if err := s.Publish(ctx, app.config.RoutingID); err != nil {
		return err
	}

	go func() {
		for err := range s.Errors() {
			app.log.Warn("renegotiation problem", zap.Error(err))
		}
	}()

	app.log.Info("publishing, press Ctrl-C to stop",
		zap.String("room", app.config.RoutingID),
		zap.String("media_line_id", s.MediaLineID()))
	<-ctx.Done()

	return s.Unpublish(context.Background())
}

func (app *Application) runSubscribe(ctx context.Context, mediaLineID string) error {
	factory := rtc.NewFactory(rtc.Config{ICEServers: app.config.ICEServers})

	s, err := session.GetRemoteMedia(ctx, app.dispatcher, factory, app.config.RoutingID, mediaLineID)
	if err != nil {
		return err
	}

	track, streams := s.Remote()
	app.log.Info("receiving media, press Ctrl-C to stop",
		zap.String("track_id", track.ID()),
		zap.Strings("streams", streams))

	go func() {
		var packets int
		for {
			if _, err := track.ReadRTP(); err != nil {
				return
			}
			packets++
			if packets%1000 == 0 {
				app.log.Debug("receiving", zap.Int("packets", packets))
			}
		}
	}()
	<-ctx.Done()

	return s.Unsubscribe(context.Background())
}
