package retry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/thomasbruketta/therapy-ops-agent/internal/logging"
)

var opSlugRE = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Diagnostic is the artifact written for a failed operation.
type Diagnostic struct {
	Op        string    `json:"op"`
	Error     string    `json:"error"`
	Transient bool      `json:"transient"`
	At        time.Time `json:"at"`
}

// FileCapture returns a CaptureFunc writing one JSON file per failure into
// dir. Error text is scrubbed of phone numbers, e-mails and ids. Write
// failures are logged and otherwise ignored.
func FileCapture(dir string, log zerolog.Logger) CaptureFunc {
	return func(_ context.Context, op string, err error) {
		now := time.Now().UTC()
		d := Diagnostic{
			Op:        op,
			Error:     logging.Scrub(err.Error()),
			Transient: Transient(err),
			At:        now,
		}
		name := opSlugRE.ReplaceAllString(op, "_") + "_" + now.Format("20060102T150405.000000000Z") + ".json"
		path := filepath.Join(dir, name)

		body, _ := json.MarshalIndent(d, "", "  ")
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			log.Warn().Err(mkErr).Str("dir", dir).Msg("diagnostics dir unavailable")
			return
		}
		if wErr := os.WriteFile(path, body, 0o644); wErr != nil {
			log.Warn().Err(wErr).Str("path", path).Msg("diagnostic write failed")
			return
		}
		log.Info().Str("op", op).Str("path", path).Msg("failure diagnostic captured")
	}
}
