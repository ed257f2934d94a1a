package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"senseboxd/internal/config"
	"senseboxd/internal/db"
	"senseboxd/internal/httpapi"
	"senseboxd/internal/migrate"
	telemetry "senseboxd/internal/modules/telemetry"
	"senseboxd/internal/modules/telemetry/repository"
	"senseboxd/internal/modules/telemetry/types"
	"senseboxd/internal/modules/telemetry/views"
	"senseboxd/internal/mqtt"
	"senseboxd/internal/opensensemap"
)

// Run executes the two phases of the process: a one-shot batch ingest for
// the configured box, then the dashboard server until the context is
// cancelled. Ingest-phase fatal errors abort before serving; per-sensor
// failures do not.
func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"boxID", cfg.SenseBoxID,
		"apiBaseURL", cfg.APIBaseURL,
		"driver", cfg.Driver,
		"liveFeed", cfg.LiveFeedEnabled(),
	)

	api := opensensemap.New(cfg.APIBaseURL)

	registry, err := ingest(ctx, cfg, api)
	if err != nil {
		return err
	}

	return serve(ctx, cfg, registry)
}

// ingest opens the write connection, migrates the schema, and runs the batch
// load. The connection is closed before serving begins.
func ingest(ctx context.Context, cfg config.Config, api *opensensemap.Client) ([]types.Sensor, error) {
	slog.Info("starting initial data load")

	writeDB, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := db.Close(writeDB); closeErr != nil {
			slog.Error("close write db", "error", closeErr)
		} else {
			slog.Info("database connection (insert) closed")
		}
	}()

	if err := migrate.Run(writeDB, cfg.Driver); err != nil {
		return nil, err
	}

	svc := telemetry.NewIngestService(writeDB, cfg.Driver, api, cfg.SenseBoxID)
	report, err := svc.Ingest(ctx)
	if err != nil {
		return nil, err
	}

	for _, s := range report.Sensors {
		if s.Skipped {
			slog.Warn("sensor skipped during ingest", "sensor_id", s.SensorID, "error", s.Error)
		}
	}
	slog.Info("initial data load complete", "total_inserted", report.TotalInserted())

	return svc.Registry(), nil
}

// serve opens the read connection and runs the dashboard HTTP server.
func serve(ctx context.Context, cfg config.Config, registry []types.Sensor) error {
	readDB, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(readDB); closeErr != nil {
			slog.Error("close read db", "error", closeErr)
		} else {
			slog.Info("database connection (read) closed")
		}
	}()

	// Initial readback; a database error here is fatal, per-request read
	// failures later are 500s.
	repo := repository.NewRepository(readDB, cfg.Driver)
	n, err := repo.CountByBox(cfg.SenseBoxID)
	if err != nil {
		return err
	}
	slog.Info("fetched measurement count for dashboard", "box_id", cfg.SenseBoxID, "rows", n)

	if err := views.LoadTemplates(); err != nil {
		return err
	}

	var sub *mqtt.Subscriber
	if cfg.LiveFeedEnabled() {
		sub = mqtt.NewSubscriber(cfg)
	}

	mux := httpapi.NewMux(readDB)
	telemetry.RegisterFeature(mux, readDB, cfg.Driver, cfg.SenseBoxID, registry, sub)

	if sub != nil {
		// Short timeout so a down broker doesn't block startup; the
		// dashboard works without the live feed.
		connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
		err = sub.Connect(connectCtx)
		connectCancel()
		if err != nil {
			slog.Warn("mqtt connection failed (continuing without live feed)", "error", err)
		}
	}

	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sub != nil {
		slog.Info("mqtt disconnecting")
		sub.Disconnect()
	}

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
