// Command canvas-harness drives simulated members against a running relay.
// Every member joins one room and draws random strokes in its own band of
// the canvas at the same time; the harness then waits for all canvases to
// converge and reports how long that took and whether any member saw gaps
// in another member's sequence.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ericfitz/sketchroom/auth"
	"github.com/ericfitz/sketchroom/client"
	"github.com/ericfitz/sketchroom/internal/envutil"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/ericfitz/sketchroom/protocol"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ServerURL    string
	Secret       string
	RoomID       string
	Clients      int
	Strokes      int
	Points       int
	Width        int
	Height       int
	Timeout      time.Duration
	SnapshotIdle time.Duration
}

type Summary struct {
	Clients     int
	Events      int
	DrawTime    time.Duration
	Convergence time.Duration
	Converged   bool
	Gaps        uint64
	Snapshot    int64
}

func main() {
	config := parseArgs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runScenario(ctx, config)
	if err != nil {
		slogging.Get().GetSlogger().Error("Scenario failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("clients:      %d\n", summary.Clients)
	fmt.Printf("events sent:  %d\n", summary.Events)
	fmt.Printf("draw time:    %s\n", summary.DrawTime)
	fmt.Printf("converged:    %t after %s\n", summary.Converged, summary.Convergence)
	fmt.Printf("seq gaps:     %d\n", summary.Gaps)
	fmt.Printf("snapshot ver: %d\n", summary.Snapshot)

	if !summary.Converged || summary.Gaps > 0 {
		os.Exit(2)
	}
}

func parseArgs() Config {
	var config Config
	flag.StringVar(&config.ServerURL, "url", envutil.Get("HARNESS_URL", "ws://localhost:8080/ws"), "Relay WebSocket URL")
	flag.StringVar(&config.Secret, "secret", envutil.Get("JWT_SECRET", ""), "HS256 secret used to mint member tokens")
	flag.StringVar(&config.RoomID, "room", envutil.Get("HARNESS_ROOM", "harness"), "Room to join")
	flag.IntVar(&config.Clients, "clients", 4, "Number of simulated members")
	flag.IntVar(&config.Strokes, "strokes", 20, "Strokes drawn by each member")
	flag.IntVar(&config.Points, "points", 8, "Points per stroke")
	flag.IntVar(&config.Width, "width", 400, "Canvas width")
	flag.IntVar(&config.Height, "height", 300, "Canvas height")
	flag.DurationVar(&config.Timeout, "timeout", 30*time.Second, "How long to wait for convergence")
	flag.DurationVar(&config.SnapshotIdle, "snapshot-idle", 0, "Idle period before members push snapshots (0 disables)")
	flag.Parse()

	if config.Secret == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret (or JWT_SECRET) is required")
		flag.Usage()
		os.Exit(1)
	}
	if config.Clients < 1 || config.Points < 1 {
		fmt.Fprintln(os.Stderr, "Error: -clients and -points must be at least 1")
		os.Exit(1)
	}
	if config.Width/config.Clients < 16 {
		fmt.Fprintln(os.Stderr, "Error: -width is too small for that many clients")
		os.Exit(1)
	}
	return config
}

// mintToken signs a short-lived member token. The relay only verifies
// tokens, so the harness plays the issuer.
func mintToken(secret, subject string) (string, error) {
	claims := auth.Claims{
		Name: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func runScenario(ctx context.Context, config Config) (*Summary, error) {
	logger := slogging.Get().GetSlogger()

	members := make([]*client.Client, config.Clients)
	defer func() {
		for _, m := range members {
			if m != nil {
				_ = m.Close()
			}
		}
	}()

	for i := range members {
		subject := fmt.Sprintf("harness-%02d", i)
		token, err := mintToken(config.Secret, subject)
		if err != nil {
			return nil, fmt.Errorf("failed to mint token: %w", err)
		}
		member, err := client.Dial(ctx, client.Config{
			URL:          config.ServerURL,
			Token:        token,
			Width:        config.Width,
			Height:       config.Height,
			SnapshotIdle: config.SnapshotIdle,
		})
		if err != nil {
			return nil, err
		}
		members[i] = member

		if _, err := member.Join(ctx, config.RoomID); err != nil {
			return nil, fmt.Errorf("%s: %w", subject, err)
		}
		logger.Info("Member joined", "subject", subject, "room", config.RoomID)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, member := range members {
		rng := rand.New(rand.NewPCG(uint64(i), uint64(start.UnixNano())))
		band := config.Width / config.Clients
		g.Go(func() error {
			return drawRandom(gctx, member, rng, config, i*band, band)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	drawTime := time.Since(start)

	converged, convergence := waitForConvergence(ctx, members, config.Timeout)

	summary := &Summary{
		Clients:     config.Clients,
		Events:      config.Clients * config.Strokes * (config.Points + 2),
		DrawTime:    drawTime,
		Convergence: convergence,
		Converged:   converged,
	}
	for _, m := range members {
		summary.Gaps += m.Canvas().Gaps()
		if v := m.LastKnownVersion(); v > summary.Snapshot {
			summary.Snapshot = v
		}
	}
	return summary, nil
}

// drawRandom keeps strokes inside [x0+margin, x0+band-margin) so members
// never paint the same pixels and every canvas converges to one image
func drawRandom(ctx context.Context, member *client.Client, rng *rand.Rand, config Config, x0, band int) error {
	const margin = 4
	color := fmt.Sprintf("#%06x", rng.IntN(0xffffff))
	for s := 0; s < config.Strokes; s++ {
		points := make([]protocol.Point, config.Points)
		for i := range points {
			points[i] = protocol.Point{
				X: float64(x0 + margin + rng.IntN(band-2*margin)),
				Y: float64(rng.IntN(config.Height)),
			}
		}
		if err := member.Stroke(ctx, color, float64(1+rng.IntN(6)), points...); err != nil {
			return err
		}
		if err := member.MoveCursor(ctx, points[len(points)-1].X, points[len(points)-1].Y); err != nil {
			return err
		}
	}
	return nil
}

// waitForConvergence polls until every member's canvas matches the first
func waitForConvergence(ctx context.Context, members []*client.Client, timeout time.Duration) (bool, time.Duration) {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if converged(members) {
			return true, time.Since(start)
		}
		select {
		case <-ctx.Done():
			return false, time.Since(start)
		case <-deadline.C:
			return false, time.Since(start)
		case <-ticker.C:
		}
	}
}

func converged(members []*client.Client) bool {
	reference := members[0].Canvas().Pixels()
	for _, m := range members[1:] {
		if !bytes.Equal(reference, m.Canvas().Pixels()) {
			return false
		}
	}
	return true
}
