package utils

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"follow-harvester/internal/types"
)

// Output formats accepted by WriteResult
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
)

// PartialPath inserts _partial before the extension: out.csv -> out_partial.csv
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return path + "_partial"
	}
	return strings.TrimSuffix(path, ext) + "_partial" + ext
}

// ValidateFormat reports an error for formats WriteResult cannot write
func ValidateFormat(format string) error {
	switch format {
	case FormatCSV, FormatJSONL, FormatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

// WriteResult writes the entities of result to path in format. Results that are
// not a success go to PartialPath(path). The path actually written is returned.
func WriteResult(path, format string, result *types.HarvestResult) (string, error) {
	if err := ValidateFormat(format); err != nil {
		return "", err
	}
	if result.Status != types.StatusSuccess {
		path = PartialPath(path)
	}

	var err error
	switch format {
	case FormatCSV:
		err = WriteEntitiesCSV(path, result.Entities)
	case FormatJSONL:
		err = WriteEntitiesJSONL(path, result.Entities)
	case FormatJSON:
		err = WriteJSON(path, result)
	}
	return path, err
}

// WriteEntitiesCSV writes Username,Full Name rows
func WriteEntitiesCSV(path string, entities []types.EntityRecord) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"Username", "Full Name"}); err != nil {
			return err
		}
		for _, e := range entities {
			if err := cw.Write([]string{e.ID, e.DisplayName}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteEntitiesJSONL writes one JSON record per line
func WriteEntitiesJSONL(path string, entities []types.EntityRecord) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, e := range entities {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteProfilesCSV writes username,biography,is_private rows
func WriteProfilesCSV(path string, profiles []types.Profile) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"username", "biography", "is_private"}); err != nil {
			return err
		}
		for _, p := range profiles {
			private := "No"
			if p.IsPrivate {
				private = "Yes"
			}
			bio := strings.TrimSpace(strings.ReplaceAll(p.Biography, "\n", " "))
			if err := cw.Write([]string{p.Username, bio, private}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteJSON writes v as indented JSON
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	return writeFile(path, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

func writeFile(path string, write func(w io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
