package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"callpulse/internal/core/domain"
	"callpulse/internal/core/ports"
	"callpulse/internal/core/services"
	"callpulse/internal/infrastructure/reliability"
	webrtcinfra "callpulse/internal/infrastructure/webrtc"
	"callpulse/pkg/logger"
	"callpulse/pkg/utils"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// opus comfort-noise frame
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// runProbe connects two in-process peers, streams silent audio between them
// and monitors the sending side until the duration elapses.
func runProbe(c *cli.Context) error {
	cfg, err := getConfig(c)
	if err != nil {
		return err
	}
	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
	defer cancel()

	sender, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("failed to create sending peer: %w", err)
	}
	defer sender.Close()

	receiver, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("failed to create receiving peer: %w", err)
	}
	defer receiver.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "callpulse-probe")
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	rtpSender, err := sender.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}

	receiver.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				return
			}
		}
	})

	if err := connect(sender, receiver); err != nil {
		return err
	}

	acc := webrtcinfra.NewRTCPAccumulator(log.Named("rtcp"))
	acc.WatchSender(ctx, rtpSender)

	var provider ports.StatsProvider = webrtcinfra.NewStatsProvider(sender,
		webrtcinfra.WithRTCP(acc),
		webrtcinfra.WithProviderLogger(log.Named("stats")),
	)
	if cfg.Retry.Enabled || cfg.CircuitBreaker.Enabled {
		provider = reliability.NewStatsProviderWrapper(provider,
			cfg.RetryOptions(),
			cfg.CircuitBreakerOptions(),
			cfg.Engine.TickInterval/2,
			log.Named("reliability"),
		)
	}

	sessions, err := services.NewSessionService(cfg.EngineOptions(), 1, log.Named("sessions"))
	if err != nil {
		return err
	}
	defer sessions.Clear()

	engine, err := sessions.CreateSession(ctx, domain.SessionID(utils.GenerateSessionID()), provider)
	if err != nil {
		return err
	}
	engine.OnUpdate(func(report domain.QualityReport) { printReport(log, report) })
	engine.OnAlert(func(alert domain.Alert) {
		log.Warnw("alert", "type", alert.Type, "severity", alert.Severity, "message", alert.Message)
	})
	engine.OnError(func(err error) { log.Warnw("snapshot failed", "error", err) })

	go writeSilence(ctx, track, log)

	<-ctx.Done()
	log.Infow("probe finished", "level", engine.Level(), "alerts", len(engine.Alerts()))
	return nil
}

// connect performs a non-trickle offer/answer exchange between two local peers.
func connect(offerer, answerer *webrtc.PeerConnection) error {
	offer, err := offerer.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(offerer)
	if err := offerer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local offer: %w", err)
	}
	<-gatherComplete

	if err := answerer.SetRemoteDescription(*offerer.LocalDescription()); err != nil {
		return fmt.Errorf("failed to set remote offer: %w", err)
	}
	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	gatherComplete = webrtc.GatheringCompletePromise(answerer)
	if err := answerer.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local answer: %w", err)
	}
	<-gatherComplete

	if err := offerer.SetRemoteDescription(*answerer.LocalDescription()); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

func writeSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample, log *zap.SugaredLogger) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := track.WriteSample(media.Sample{Data: silenceFrame, Duration: 20 * time.Millisecond})
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			if err != nil {
				log.Debugw("failed to write sample", "error", err)
			}
		}
	}
}

func printReport(log *zap.SugaredLogger, report domain.QualityReport) {
	fields := []interface{}{
		"level", report.Level,
		"bars", report.Indicator.Bars,
	}
	if report.Score != nil {
		fields = append(fields, "score", fmt.Sprintf("%.1f", report.Score.Overall), "grade", report.Score.Grade)
	}
	if rtt := report.Indicator.Details.RTT; rtt != nil {
		fields = append(fields, "rtt_ms", fmt.Sprintf("%.1f", *rtt))
	}
	if bw := report.Indicator.Details.Bandwidth; bw != nil {
		fields = append(fields, "bandwidth", utils.FormatBitrate(*bw))
	}
	if report.Trend != nil {
		fields = append(fields, "trend", report.Trend.Direction)
	}
	if report.Recommendation != nil {
		fields = append(fields,
			"action", report.Recommendation.Action,
			"suggestions", len(report.Recommendation.Suggestions),
		)
	}
	log.Infow("quality report", fields...)
}
