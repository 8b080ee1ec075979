package handler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// RunCounter reports how many campaign runs this process is driving.
// Exposed on the readiness probe so an operator draining an instance can
// tell when it has gone idle.
type RunCounter interface {
	ActiveRuns() int
}

func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client, runs RunCounter) {
	app.Get("/healthz", HealthzHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb, runs))
}

// HealthzHandler is the liveness probe: the process is up and serving.
func HealthzHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler reports whether the engine can accept campaign work. Both
// backends matter: without the checkpoint store no run can make durable
// progress, and without the lease backend no run can prove single
// ownership.
func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client, runs RunCounter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{
			"checkpointStore": "ok",
			"leaseBackend":    "ok",
		}
		ready := true

		if err := pingPostgres(ctx, sqlDB); err != nil {
			checks["checkpointStore"] = "down"
			ready = false
		}
		if err := pingRedis(ctx, rdb); err != nil {
			checks["leaseBackend"] = "down"
			ready = false
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		activeRuns := 0
		if runs != nil {
			activeRuns = runs.ActiveRuns()
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status":     status,
			"checks":     checks,
			"activeRuns": activeRuns,
		})
	}
}

func pingPostgres(ctx context.Context, sqlDB *sql.DB) error {
	if sqlDB == nil {
		return fmt.Errorf("postgres is not configured")
	}
	return sqlDB.PingContext(ctx)
}

func pingRedis(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return fmt.Errorf("redis is not configured")
	}
	return rdb.Ping(ctx).Err()
}
