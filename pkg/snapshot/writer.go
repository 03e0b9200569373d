package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/solwatch/mintwatch/internal/types"
)

// filenameTimeLayout names snapshot files by wallclock.
const filenameTimeLayout = "20060102_150405"

// writeArtifacts writes the CSV holder table and its JSON summary
// sidecar, returning the CSV filename.
func (p *Pipeline) writeArtifacts(aggregated []types.Holder, summary *types.SnapshotSummary) (string, error) {
	stamp := summary.Timestamp.Format(filenameTimeLayout)

	name := fmt.Sprintf("snapshot_%s.csv", stamp)
	if p.cfg.Compress {
		name += ".zst"
	}
	if err := writeCSV(filepath.Join(p.cfg.OutputDir, name), aggregated, p.cfg.Compress); err != nil {
		return "", fmt.Errorf("write holder table: %w", err)
	}

	infoName := fmt.Sprintf("snapshot_%s_info.json", stamp)
	if err := writeSummary(filepath.Join(p.cfg.OutputDir, infoName), summary, name); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return name, nil
}

func writeCSV(path string, aggregated []types.Holder, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var out io.Writer = f
	var enc *zstd.Encoder
	if compress {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return err
		}
		out = enc
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"address", "balance"}); err != nil {
		return err
	}
	for _, h := range aggregated {
		if err := w.Write([]string{h.Address, strconv.FormatUint(h.Balance, 10)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

func writeSummary(path string, summary *types.SnapshotSummary, csvName string) error {
	record := *summary
	record.File = csvName
	data, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
