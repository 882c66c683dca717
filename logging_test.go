package inmotechcitas

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigureLoggerAplicaNivel(t *testing.T) {
	t.Cleanup(func() { ConfigureLogger("info", "json", "stderr") })

	// La configuración cargada manda sobre lo que el entorno tuviera al
	// primer uso del logger.
	ConfigureLogger("debug", "text", "stderr")
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelDebug))

	ConfigureLogger("error", "json", "stderr")
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelError))
}

func TestRequestIDPropagado(t *testing.T) {
	ctx, id := WithRequestID(context.Background())
	assert.NotEmpty(t, id)

	// Reutiliza el id existente en lugar de generar otro.
	ctx2, id2 := WithRequestID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, id, RequestIDFromContext(ctx2))
}
