// Package cli holds the flag parsing and wiring shared by the command
// binaries.
package cli

import (
	"flag"
	"fmt"
	"strings"
)

// CommonFlags are flags every command accepts.
type CommonFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
}

// RegisterCommonFlags wires the shared flags into the default flag set.
// The caller still runs flag.Parse after registering its own flags.
func RegisterCommonFlags() *CommonFlags {
	var flags CommonFlags
	flag.StringVar(&flags.ConfigPath, "config", "config.yaml", "Configuration file path")
	flag.BoolVar(&flags.JSON, "json", false, "Emit JSON instead of a console report")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	return &flags
}

// ParseVendorAccount splits a "vendor:account" argument. The account part
// is optional ("vendor" alone is accepted).
func ParseVendorAccount(arg string) (vendor, account string, err error) {
	if arg == "" {
		return "", "", fmt.Errorf("empty vendor:account argument")
	}
	parts := strings.SplitN(arg, ":", 2)
	vendor = strings.TrimSpace(parts[0])
	if vendor == "" {
		return "", "", fmt.Errorf("invalid vendor:account argument %q", arg)
	}
	if len(parts) == 2 {
		account = strings.TrimSpace(parts[1])
	}
	return vendor, account, nil
}
