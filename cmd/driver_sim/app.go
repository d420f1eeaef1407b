// Package driversim runs a simulated driver client against a running relay:
// it mints a dev token, opens a session, and streams a random-walk position
// track at the configured send interval.
package driversim

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"courier-relay/internal/cli"
	"courier-relay/internal/domain/user"
	"courier-relay/internal/general/config"
	"courier-relay/internal/general/logger"
	"courier-relay/internal/relay/client"
	"courier-relay/internal/relay/geo"
	"courier-relay/internal/relay/message"
)

// Run starts the simulator and blocks until ctx is cancelled or the session
// gives up reconnecting.
func Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet(cli.ModeDriverSim, flag.ContinueOnError)
	cli.AttachUsage(fs, cli.ModeDriverSim)
	configPath := fs.String("config", "config/config.yaml", "path to the YAML config file")
	relayURL := fs.String("relay", "ws://localhost:8080/ws", "relay websocket endpoint")
	driverID := fs.String("driver", "driver-sim-1", "driver identifier to connect as")
	orderID := fs.String("order", "", "order to attach to outgoing location updates")
	lat := fs.Float64("lat", 51.1694, "starting latitude")
	lng := fs.Float64("lng", 71.4491, "starting longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logger.New("driver-sim")

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token, _, err := cli.GenerateUserToken(cfg.JWT.SecretKey, *driverID, user.RoleDriver.String())
	if err != nil {
		return fmt.Errorf("mint dev token: %w", err)
	}

	done := make(chan error, 1)
	sess, err := client.New(client.Options{
		URL:                  *relayURL,
		Token:                token,
		UserID:               *driverID,
		Role:                 user.RoleDriver,
		Positions:            newRandomWalk(*lat, *lng),
		SendInterval:         time.Duration(cfg.Client.SendIntervalSeconds) * time.Second,
		ReconnectInterval:    time.Duration(cfg.Client.ReconnectIntervalSeconds) * time.Second,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		OnMessage: func(env message.Envelope) {
			log.Debug(ctx, "envelope_received", "Inbound envelope",
				map[string]any{"type": env.Type.String(), "order_id": env.OrderID})
		},
		OnError: func(err error) {
			done <- err
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if *orderID != "" {
		sess.SetActiveOrder(*orderID)
	}
	if err := sess.StartTracking(); err != nil {
		return fmt.Errorf("start tracking: %w", err)
	}

	log.Info(ctx, "sim_started", "Driver simulator running",
		map[string]any{"driver_id": *driverID, "relay": *relayURL})

	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return fmt.Errorf("session terminated: %w", err)
	}
}

// randomWalk emits a jittered position track around a starting point, one
// sample per second.
type randomWalk struct {
	lat, lng float64
}

func newRandomWalk(lat, lng float64) *randomWalk {
	return &randomWalk{lat: lat, lng: lng}
}

func (w *randomWalk) Watch(ctx context.Context, _ client.WatchOptions) (<-chan client.Position, error) {
	out := make(chan client.Position)

	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		prevLat, prevLng := w.lat, w.lng
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			// step ~10-50m in a random direction
			nextLat := prevLat + (rand.Float64()-0.5)*0.001
			nextLng := prevLng + (rand.Float64()-0.5)*0.001

			pos := client.Position{
				Latitude:       nextLat,
				Longitude:      nextLng,
				AccuracyMeters: 5 + rand.Float64()*10,
				SpeedKMH:       geo.DistanceKM(prevLat, prevLng, nextLat, nextLng) * 3600,
				HeadingDegrees: geo.BearingDegrees(prevLat, prevLng, nextLat, nextLng),
				Timestamp:      time.Now().UTC(),
			}
			prevLat, prevLng = nextLat, nextLng

			select {
			case <-ctx.Done():
				return
			case out <- pos:
			}
		}
	}()

	return out, nil
}
