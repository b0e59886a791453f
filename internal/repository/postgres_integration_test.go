//go:build integration

package repository_test

import (
	"log/slog"
	"testing"

	"github.com/UnknownOlympus/odometer/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestRepositoryWithPostgres(t *testing.T) {
	ctx := t.Context()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("odometer"),
		postgres.WithUsername("odometer"),
		postgres.WithPassword("secret"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := repository.NewDatabase(ctx, host, port.Port(), "odometer", "secret", "odometer")
	require.NoError(t, err)
	defer pool.Close()

	repo := repository.NewRepository(pool, slog.Default())
	require.NoError(t, repo.EnsureSchema(ctx))
	// running it twice must be harmless
	require.NoError(t, repo.EnsureSchema(ctx))

	want := sampleReport()
	require.NoError(t, repo.SaveReport(ctx, want))

	got, err := repo.FetchReport(ctx, want.RunID)
	require.NoError(t, err)
	assert.Equal(t, want.Group, got.Group)
	assert.Equal(t, want.Destination, got.Destination)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, want.Rows, got.Rows)

	_, err = repo.FetchReport(ctx, uuid.New())
	require.ErrorIs(t, err, repository.ErrReportNotFound)
	require.NoError(t, repo.Ping(ctx))
}
