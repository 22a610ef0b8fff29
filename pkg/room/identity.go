package room

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnsureUserID returns the stable local user identifier for this profile,
// generating and persisting one under dir on first use. The id is shared
// across rooms and survives restarts, mirroring the per-browser-profile
// identity of the web client.
func EnsureUserID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}
	path := filepath.Join(dir, "user-id")
	if raw, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist user id: %w", err)
	}
	return id, nil
}
