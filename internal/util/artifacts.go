package util

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

func WriteJSONAtomic(path string, v any) error {
	return writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	})
}

func WriteJSONLinesAtomic[T any](path string, rows []T) error {
	return writeAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, row := range rows {
			b, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("marshal row: %w", err)
			}
			if _, err := bw.Write(append(b, '\n')); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush jsonl: %w", err)
		}
		return nil
	})
}
