package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_JSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("debug", "production", &buf)
	log.Info().Str("invoice_id", "7").Msg("parsed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "invoice-recon" || entry["invoice_id"] != "7" {
		t.Errorf("unexpected fields: %v", entry)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("warn", "production", &buf)
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info line written at warn level: %q", buf.String())
	}

	buf.Reset()
	log = NewWithWriter("nonsense", "production", &buf)
	log.Info().Msg("kept")
	if buf.Len() == 0 {
		t.Error("invalid level should fall back to info")
	}
}
