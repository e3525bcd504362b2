package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bentbr/r_data_core_go/internal/app"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/database"
)

// @title r_data_core admin API
// @version 1.0
// @description Dynamic-data and workflow engine: entity definitions, entities, permission schemes, and DSL-driven workflows.

// @host localhost:8080
// @BasePath /admin/api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT access token.

func main() {
	application := app.NewApplication()

	if err := application.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize application: %v\n", err)
		var migrationErr *database.MigrationError
		if errors.As(err, &migrationErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if err := application.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start application: %v\n", err)
		os.Exit(1)
	}

	application.WaitForShutdown()

	if err := application.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		os.Exit(1)
	}
}
