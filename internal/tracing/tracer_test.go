package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.Enabled)
	require.Equal(t, "file", cfg.Exporter)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, "obr", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled file without path", Config{Exporter: "file"}, ""},
		{"enabled file without path", Config{Enabled: true, Exporter: "file"}, "file_path is required"},
		{"bad exporter", Config{Exporter: "zipkin"}, "tracing.exporter must be"},
		{"bad sample rate", Config{SampleRate: 1.5}, "sample_rate must be between"},
		{"otlp", Config{Enabled: true, Exporter: "otlp"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "traces.jsonl")
	p, err := NewProvider(Config{Enabled: true, Exporter: "file", FilePath: path, ServiceName: "obr-test"})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	ctx, parent := Start(context.Background(), SpanRefresh)
	_, child := Start(ctx, SpanLoad, attribute.String(AttrSourceURL, "file:///repo.xml"))
	End(child, errors.New("boom"))
	End(parent, nil)

	require.NoError(t, p.Shutdown(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records := map[string]SpanRecord{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		records[r.Name] = r
	}
	require.Len(t, records, 2)

	load := records[SpanLoad]
	require.Equal(t, "ERROR", load.Status)
	require.Equal(t, "boom", load.StatusMsg)
	require.Equal(t, records[SpanRefresh].SpanID, load.ParentSpanID)
	require.Equal(t, "file:///repo.xml", load.Attributes[AttrSourceURL])
	require.Contains(t, load.Events, "exception")
}
