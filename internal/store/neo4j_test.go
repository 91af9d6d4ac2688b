package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeo4jConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Neo4jConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  &Neo4jConfig{URI: "neo4j://localhost:7687", Username: "neo4j", Password: "secret"},
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "store configuration is required",
		},
		{
			name:    "missing uri",
			cfg:     &Neo4jConfig{Username: "neo4j", Password: "secret"},
			wantErr: "store uri is required",
		},
		{
			name:    "missing username",
			cfg:     &Neo4jConfig{URI: "neo4j://localhost:7687", Password: "secret"},
			wantErr: "store username is required",
		},
		{
			name:    "missing password",
			cfg:     &Neo4jConfig{URI: "neo4j://localhost:7687", Username: "neo4j"},
			wantErr: "store password is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsConstraintViolation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "constraint violation code",
			err:  &neo4j.Neo4jError{Code: constraintViolationCode, Msg: "already exists"},
			want: true,
		},
		{
			name: "wrapped constraint violation",
			err:  fmt.Errorf("tx failed: %w", &neo4j.Neo4jError{Code: constraintViolationCode}),
			want: true,
		},
		{
			name: "other neo4j error",
			err:  &neo4j.Neo4jError{Code: "Neo.ClientError.Security.Unauthorized"},
			want: false,
		},
		{
			name: "memory store duplicate",
			err:  fmt.Errorf("row 3: %w", ErrDuplicateObservation),
			want: true,
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsConstraintViolation(tt.err))
		})
	}
}

func TestObservationRowFromValues(t *testing.T) {
	t.Parallel()

	row, err := observationRowFromValues([]any{0.42, int64(200), "aceabsar", "MOD13Q1", "NDVI"})
	require.NoError(t, err)
	assert.Equal(t, ObservationRow{
		Value:    0.42,
		Date:     200,
		Station:  "aceabsar",
		Platform: "MOD13Q1",
		Element:  "NDVI",
	}, row)

	// Integer-typed values come back from the server for whole numbers.
	row, err = observationRowFromValues([]any{int64(1), int64(200), "aceabsar", "MOD13Q1", "NDVI"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, row.Value, 1e-9)

	_, err = observationRowFromValues([]any{0.42, int64(200)})
	assert.Error(t, err)

	_, err = observationRowFromValues([]any{"bad", int64(200), "s", "p", "e"})
	assert.Error(t, err)
}

func TestLatestRowFromValues(t *testing.T) {
	t.Parallel()

	row, err := latestRowFromValues([]any{"MOD13Q1", "NDVI", int64(1650000000)})
	require.NoError(t, err)
	assert.Equal(t, LatestRow{Platform: "MOD13Q1", Element: "NDVI", Timestamp: 1650000000}, row)

	_, err = latestRowFromValues([]any{"MOD13Q1", "NDVI", "not-a-timestamp"})
	assert.Error(t, err)
}
