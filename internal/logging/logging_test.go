package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWithWriter_Levels(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, false)
	log.Debug().Msg("hidden detail")
	log.Info().Msg("crew started")
	if strings.Contains(buf.String(), "hidden detail") {
		t.Fatalf("debug line written at info level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "crew started") {
		t.Fatalf("info line missing: %q", buf.String())
	}

	buf.Reset()
	InitWithWriter(&buf, true)
	log.Debug().Msg("visible detail")
	if !strings.Contains(buf.String(), "visible detail") {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}

func TestForRun_TagsRunID(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, false)
	logger := ForRun("20261015-101500-abc123")
	logger.Info().Msg("task finished")
	if !strings.Contains(buf.String(), "20261015-101500-abc123") {
		t.Fatalf("run id missing: %q", buf.String())
	}
}
