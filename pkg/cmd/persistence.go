package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/arborops/canopy/pkg/persistence"
	"github.com/arborops/canopy/pkg/persistence/file"
	"github.com/arborops/canopy/pkg/persistence/postgresql"
)

// NewPersistence selects the storage backend from the database URL scheme.
// postgres:// URLs get PostgreSQL; anything else is treated as a file path
// for local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		persist, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(err)
		}

		return persist
	default:
		return file.NewPersistence(databaseURL)
	}
}

func parseProvider(databaseURL string) string {
	parts := strings.SplitN(databaseURL, "://", 2)
	if len(parts) < 2 {
		return "file"
	}

	return parts[0]
}
