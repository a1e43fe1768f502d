package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ivanzxc/go-glucose-stream/internal/sampler"
)

const (
	filePrefix = "glucose_data_"
	fileLayout = "20060102_150405"
)

var header = []string{"Time", "Glucose"}

// Filename is stamped with the export time, not with the run.
func Filename(at time.Time) string {
	return filePrefix + at.Format(fileLayout) + ".csv"
}

// WriteCSV writes the series as a Time,Glucose table.
func WriteCSV(w io.Writer, series []sampler.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range series {
		if err := cw.Write([]string{s.Clock(), strconv.FormatFloat(s.Glucose, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func CSV(series []sampler.Sample) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, series); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveCSV writes the series into dir and returns the file path.
func SaveCSV(dir string, series []sampler.Sample, at time.Time) (string, error) {
	data, err := CSV(series)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename(at))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}
