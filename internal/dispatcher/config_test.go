package dispatcher

import "testing"

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		in          Config
		wantBuffer  int
		wantWorkers int
	}{
		{"zero values", Config{}, defaultBufferSize, defaultWorkers},
		{"negative values", Config{BufferSize: -1, Workers: -1}, defaultBufferSize, defaultWorkers},
		{"valid values preserved", Config{BufferSize: 5, Workers: 2}, 5, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.in.withDefaults()
			if cfg.BufferSize != tt.wantBuffer {
				t.Errorf("Expected BufferSize %d, got %d", tt.wantBuffer, cfg.BufferSize)
			}
			if cfg.Workers != tt.wantWorkers {
				t.Errorf("Expected Workers %d, got %d", tt.wantWorkers, cfg.Workers)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISPATCHER_BUFFER_SIZE", "50")
	t.Setenv("DISPATCHER_WORKERS", "0")

	cfg := LoadConfigFromEnv()
	if cfg.BufferSize != 50 {
		t.Errorf("Expected BufferSize 50, got %d", cfg.BufferSize)
	}
	if cfg.Workers != defaultWorkers {
		t.Errorf("Expected Workers %d, got %d", defaultWorkers, cfg.Workers)
	}
}
