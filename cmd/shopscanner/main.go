package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/housecrystal-18/shopscanner/app/controllers"
	"github.com/housecrystal-18/shopscanner/app/repository"
	"github.com/housecrystal-18/shopscanner/internal/pkg/cache"
	"github.com/housecrystal-18/shopscanner/internal/pkg/constants"
	"github.com/housecrystal-18/shopscanner/internal/pkg/database"
	"github.com/housecrystal-18/shopscanner/internal/pkg/env"
	"github.com/housecrystal-18/shopscanner/internal/pkg/events"
	"github.com/housecrystal-18/shopscanner/internal/pkg/router"
	"github.com/housecrystal-18/shopscanner/internal/pkg/syncqueue"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "3000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())

	syncqueue.GetManager().Start()

	aggregator := controllers.GetAggregator()
	aggregator.Subscribe(events.Default())
	aggregator.Start()

	// Find the project root so the OpenAPI document resolves no matter
	// where the binary is started from.
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/shopscanner to project root
		"../../../", // Fallback
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	app := fiber.New(fiber.Config{
		AppName: "Shop Scanner",
	})

	app.Use(recover.New(), logger.New())

	app.Get(constants.MetricsRoute, monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app
}
