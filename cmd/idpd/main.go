package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	idp "github.com/goliatone/go-idp"
	"github.com/goliatone/go-idp/engine"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("idpd: %v", err)
	}
}

func run() error {
	cfg, err := idp.ResolveConfig(os.LookupEnv)
	if err != nil {
		return err
	}

	logger := idp.DefaultLogger()
	policy := idp.PolicyForMode(cfg.TestMode)

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := engine.Migrate(ctx, db); err != nil {
		return err
	}

	mailer := idp.NewMailer(cfg, idp.WithMailerLogger(logger))
	observer := idp.NewDispatchObserver(mailer, idp.WithObserverLogger(logger))

	eng, err := engine.New(engine.NewStore(db), engine.Config{
		Secret:   cfg.AuthSecret,
		BaseURL:  cfg.BaseURL,
		Issuer:   cfg.BaseURL,
		Audience: []string{cfg.BaseURL},
		Policy:   policy,
		Observer: observer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	orchestrator := idp.NewOrchestrator(eng, policy, idp.WithLogger(logger))
	guard := idp.NewSessionGuard(eng, idp.WithGuardLogger(logger))

	app := fiber.New(fiber.Config{
		AppName:      "idpd",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.TrustedOrigins, ","),
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		ExposeHeaders:    idp.AuthTokenHeader,
	}))

	controller := idp.NewAuthController(orchestrator, guard,
		idp.WithControllerLogger(logger),
	)

	idp.RegisterAuthRoutes(app.Group("/api/auth"), controller)

	app.Get("/health", controller.HealthGet)

	// Example of a route that requires a live session.
	app.Get("/api/protected", guard.Protect(), func(c *fiber.Ctx) error {
		principal, _ := idp.GuardedPrincipal(c)
		return c.JSON(fiber.Map{
			"status": "success",
			"data":   fiber.Map{"user": principal},
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("listening on %s mode=%s", addr, modeLabel(cfg.TestMode))

	return app.Listen(addr)
}

func openDatabase(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func modeLabel(testMode bool) string {
	if testMode {
		return "test"
	}
	return "production"
}
