package hostmodel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
)

// installationsSection is the launcher registry section mapping engine
// identifiers to install directories.
const installationsSection = "Installations"

// Installations maps engine association identifiers to engine directories.
type Installations map[string]string

// DefaultInstallIniPath returns the launcher registry path used on Linux and macOS.
func DefaultInstallIniPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "Epic", "UnrealEngine", "Install.ini"), nil
}

// LoadInstallations reads the [Installations] section of an Install.ini file.
// A missing file yields an empty registry.
func LoadInstallations(path string) (Installations, error) {
	out := Installations{}
	if path == "" {
		return out, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return out, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if !cfg.HasSection(installationsSection) {
		return out, nil
	}
	for _, key := range cfg.Section(installationsSection).Keys() {
		if dir := strings.TrimSpace(key.String()); dir != "" {
			out[normalizeAssociation(key.Name())] = dir
		}
	}
	return out, nil
}

// Lookup returns the directory registered for association.
func (i Installations) Lookup(association string) (string, bool) {
	dir, ok := i[normalizeAssociation(association)]
	return dir, ok
}

// normalizeAssociation strips GUID braces and case.
func normalizeAssociation(s string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(s), "{}"))
}
