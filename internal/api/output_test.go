package api

import (
	"bytes"
	"strings"
	"testing"
)

func TestOutputToJSON(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{"site": "ao3", "queued": 2}

	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, `"site": "ao3"`) {
		t.Errorf("json output missing field: %q", got)
	}
}

func TestOutputToYAML(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]string{"site": "ao3"}

	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "site: ao3") {
		t.Errorf("yaml output missing field: %q", got)
	}
}

func TestOutputToUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormat("xml"), nil); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestSetOutputFormatFallsBackToYAML(t *testing.T) {
	t.Cleanup(func() { globalOutputFormat = OutputFormatYAML })

	SetOutputFormat("json")
	if globalOutputFormat != OutputFormatJSON {
		t.Errorf("format = %q, want json", globalOutputFormat)
	}

	SetOutputFormat("table")
	if globalOutputFormat != OutputFormatYAML {
		t.Errorf("format = %q, want yaml fallback", globalOutputFormat)
	}
}
