package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tankindex/internal/model"
)

// HashInputs fingerprints a stage execution: the stage id, its settings
// (JSON-encoded) and the content of every input. Directory inputs are walked
// in lexical order. A missing input is an IO error.
func HashInputs(stage string, settings any, inputs ...string) (string, error) {
	h := xxhash.New()
	_, _ = h.WriteString(stage)
	_, _ = h.Write([]byte{0})

	cfg, err := json.Marshal(settings)
	if err != nil {
		return "", eris.Wrapf(err, "checkpoint: encode settings of %s", stage)
	}
	_, _ = h.Write(cfg)

	for _, in := range inputs {
		err := filepath.WalkDir(in, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return hashFile(h, path)
		})
		if err != nil {
			return "", model.IOErrorf(err, "checkpoint: hash input %s of %s", in, stage)
		}
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

func hashFile(h *xxhash.Digest, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	_, _ = h.WriteString(filepath.ToSlash(path))
	_, _ = h.Write([]byte{0})
	_, err = io.Copy(h, f)
	return err
}

// Fresh reports whether stage already completed with inputHash and every
// output it recorded is still on disk.
func Fresh(ctx context.Context, st Store, stage, inputHash string) (bool, error) {
	cp, err := st.GetCheckpoint(ctx, stage)
	if err != nil {
		return false, err
	}
	if cp == nil || cp.InputHash != inputHash {
		return false, nil
	}
	for _, out := range cp.Outputs {
		if _, err := os.Stat(out); err != nil {
			return false, nil
		}
	}
	return true, nil
}
