package requirements

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicExtract(t *testing.T) {
	e := NewHeuristicExtractor()

	req, err := e.Extract(context.Background(), "Create a Go service named orders-service using echo with postgres and docker")
	require.NoError(t, err)

	assert.Equal(t, "orders-service", req.Name)
	assert.Equal(t, "go", req.Language)
	assert.Equal(t, "echo", req.Framework)
	assert.True(t, req.HasFeature("database"))
	assert.True(t, req.HasFeature("docker"))
	assert.False(t, req.HasFeature("auth"))
	assert.Contains(t, req.Description, "orders-service")
}

func TestHeuristicExtractBacktickNameWins(t *testing.T) {
	e := NewHeuristicExtractor()

	req, err := e.Extract(context.Background(), "Scaffold `Payment Gateway` called something-else in Python with FastAPI")
	require.NoError(t, err)

	assert.Equal(t, "payment-gateway", req.Name, "backtick name beats named/called phrasing")
	assert.Equal(t, "python", req.Language)
	assert.Equal(t, "fastapi", req.Framework)
}

func TestHeuristicExtractNamedPhrase(t *testing.T) {
	e := NewHeuristicExtractor()

	req, err := e.Extract(context.Background(), "I want a TypeScript CLI called release-bot")
	require.NoError(t, err)

	assert.Equal(t, "release-bot", req.Name)
	assert.Equal(t, "typescript", req.Language)
	assert.True(t, req.HasFeature("cli"))
}

func TestHeuristicExtractGoWordBoundary(t *testing.T) {
	e := NewHeuristicExtractor()

	// "go" only matches as a standalone word, not inside "django".
	req, err := e.Extract(context.Background(), "A Django app named blog in python")
	require.NoError(t, err)
	assert.Equal(t, "python", req.Language)
	assert.Equal(t, "django", req.Framework)

	req, err = e.Extract(context.Background(), "Build a worker named ingestd in go")
	require.NoError(t, err)
	assert.Equal(t, "go", req.Language)
}

func TestHeuristicExtractNoName(t *testing.T) {
	e := NewHeuristicExtractor()

	_, err := e.Extract(context.Background(), "Build me a Go service")
	assert.ErrorIs(t, err, ErrNoProjectName)
}

func TestHeuristicExtractNoLanguage(t *testing.T) {
	e := NewHeuristicExtractor()

	_, err := e.Extract(context.Background(), "Build a service named mystery-box")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no language")
}
