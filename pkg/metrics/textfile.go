package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/common/expfmt"
)

// WriteTextfile dumps the registry into dir in the node-exporter textfile
// collector format. Lifecycle invocations are one-shot processes, so this
// is how a scraper sees them: each action rewrites the file atomically.
func WriteTextfile(dir string) error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metakeeper.prom.*")
	if err != nil {
		return fmt.Errorf("failed to create metrics tempfile: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics tempfile: %w", err)
	}

	final := filepath.Join(dir, "metakeeper.prom")
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to publish metrics file: %w", err)
	}
	return nil
}
