package transform

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/stretchr/testify/assert"
)

func TestAction_Execute(t *testing.T) {
	t.Parallel()

	actx := protocol.ActionContext{
		NodeID: "t1",
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}

	tests := []struct {
		name   string
		config map[string]any
		want   map[string]any
	}{
		{
			name:   "pass through",
			config: map[string]any{"name": "Ada", "count": float64(2)},
			want:   map[string]any{"name": "Ada", "count": float64(2)},
		},
		{
			name:   "object output",
			config: map[string]any{"output": map[string]any{"email": "a@b.c"}, "ignored": true},
			want:   map[string]any{"email": "a@b.c"},
		},
		{
			name:   "scalar output",
			config: map[string]any{"output": "x"},
			want:   map[string]any{"result": "x"},
		},
		{
			name: "path lookup",
			config: map[string]any{
				"input": map[string]any{"items": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}},
				"path":  "items.#.id",
			},
			want: map[string]any{"result": []any{"a", "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := NewAction().Execute(context.Background(), tt.config, actx)

			assert.True(t, result.Success)
			assert.Equal(t, tt.want, result.Output)
		})
	}
}
