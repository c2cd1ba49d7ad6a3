package appconfig

import (
	"testing"
	"time"

	"pkt.systems/mudgate/schema"
)

func TestDefaultConfigPipeline(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	pipeline := cfg.Service.Pipeline()
	if pipeline.Preamble != schema.DefaultPreamble {
		t.Fatalf("preamble %q", pipeline.Preamble)
	}
	if pipeline.HistoryMax != schema.DefaultHistoryMax {
		t.Fatalf("history max %d", pipeline.HistoryMax)
	}
	if pipeline.HandlerWarn != schema.DefaultHandlerWarn {
		t.Fatalf("handler warn %v", pipeline.HandlerWarn)
	}
}

func TestPipelineConvertsWarnMillis(t *testing.T) {
	svc := ServiceConfig{HandlerWarnMS: 75}
	if got := svc.Pipeline().HandlerWarn; got != 75*time.Millisecond {
		t.Fatalf("handler warn %v", got)
	}
}
