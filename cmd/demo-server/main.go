package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"wellnesskit/analytics"
	"wellnesskit/api/httpapi"
	"wellnesskit/core"
	"wellnesskit/engine"
	"wellnesskit/gamify"
	"wellnesskit/realtime"
)

// starterCatalog is the activity list a fresh deployment starts with.
var starterCatalog = []struct {
	category, name string
	xp             int64
}{
	{"Steps", "Daily Steps 5k+ (pick only one per day)", 5},
	{"Steps", "Daily Steps 10k+", 10},
	{"Steps", "Daily Steps 15k+", 15},
	{"Steps", "Daily Steps 20k+", 20},
	{"Steps", "Weekly Steps 35k+ (pick only one per week)", 5},
	{"Steps", "Weekly Steps 70k+", 10},
	{"Steps", "Weekly Steps 105k+", 15},
	{"Steps", "Daily Steps 140k+", 20},
	{"Hiking", "1 hour hiking", 3},
	{"Hiking", "2 hours hiking", 8},
	{"Hiking", "3+ hours hiking", 12},
	{"Running", "20 min jog", 3},
	{"Running", "40 min jog", 8},
	{"Running", "60 min jog", 12},
	{"Running", "90+ min jog", 15},
	{"Running", "20 min intense run", 5},
	{"Running", "40 min intense run", 10},
	{"Running", "60+ min intense run", 15},
	{"Cycling", "Under 1 hour bike ride", 5},
	{"Cycling", "1-3 hour bike ride", 13},
	{"Cycling", "3+ hour bike ride", 20},
	{"Swimming", "Casual Swimming (Under 30min actively swimming)", 10},
	{"Swimming", "Intense Swimming (30+ min actively swimming)", 15},
	{"Strength", "Gym session (30-60 min)", 10},
	{"Strength", "Long gym session (60+ min)", 15},
	{"Strength", "Bodyweight/Resistance Bands workout", 5},
	{"Strength", "Core or mobility session", 3},
	{"Sports", "1 hour low intensity sport", 5},
	{"Sports", "2+ hours low intensity sport", 10},
	{"Sports", "1 hour high intensity sport", 8},
	{"Sports", "2+ hours high intensity sport", 13},
	{"Recovery", "Meditation", 2},
	{"Recovery", "Yoga", 5},
	{"Recovery", "Stretching or massage session", 3},
	{"Recovery", "A week of good sleep (7+ hours/day avg)", 5},
	{"Recovery", "A week of great sleep (8+ hours/day avg)", 10},
}

// seedCatalog loads starterCatalog with ids in list order.
func seedCatalog(ctx context.Context, svc *engine.Service) (int, error) {
	for i, a := range starterCatalog {
		if _, err := svc.PutActivity(ctx, core.Activity{
			ID:       core.ActivityID(i + 1),
			Name:     a.name,
			Category: a.category,
			XPValue:  a.xp,
		}); err != nil {
			return i, err
		}
	}
	return len(starterCatalog), nil
}

func newDemoHandler(ctx context.Context, logger *slog.Logger) (http.Handler, *engine.Service, error) {
	hub := realtime.NewHub()
	kpis := analytics.NewKPIs()
	svc, err := gamify.New(
		gamify.WithLogger(logger),
		gamify.WithRealtime(hub),
		gamify.WithSinks(kpis.OnNotification),
		gamify.WithEvaluationHook(kpis.OnEvaluation),
	)
	if err != nil {
		return nil, nil, err
	}
	n, err := seedCatalog(ctx, svc)
	if err != nil {
		svc.Close()
		return nil, nil, err
	}
	if _, err := svc.SyncCatalog(ctx); err != nil {
		svc.Close()
		return nil, nil, err
	}
	logger.Info("demo catalog seeded", "activities", n)
	return httpapi.NewMux(svc, hub, httpapi.Options{AllowCORSOrigin: "*", KPIs: kpis}), svc, nil
}

func main() {
	// Use readable text logging for development/demo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	handler, svc, err := newDemoHandler(context.Background(), logger)
	if err != nil {
		logger.Error("demo setup failed", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	srv := &http.Server{Addr: ":8080", Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("starting demo server on :8080")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}
