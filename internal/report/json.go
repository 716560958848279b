package report

import (
	"encoding/json"
	"fmt"
	"io"

	"tree-buffer/internal/service"
)

// WriteJSON 输出机器可读的运行结果
func WriteJSON(w io.Writer, result *service.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}
	return nil
}
