// Package flagx holds small helpers for components that parse only their own
// subset of the command line.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnvVar = "COLLECTOR_CONFIG"

// FilterArgs returns the subset of args made of allowed flags and their values.
//
// Both "-f value" and "-f=value" forms are recognised. A value is only consumed
// when the next argument does not itself look like a flag.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ConfigFile returns the JSON config path given by -c / -config, falling back
// to $COLLECTOR_CONFIG. Empty means no file should be loaded.
func ConfigFile() string {
	var path string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	return path
}
