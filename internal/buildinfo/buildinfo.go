// Package buildinfo holds version data stamped at link time:
//
//	go build -ldflags "-X vrpdicho/internal/buildinfo.Version=v1.2.0 -X vrpdicho/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	info := map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go"] = bi.GoVersion
		if Commit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info["commit"] = s.Value
				}
			}
		}
	}
	return info
}

// String is the one-line form printed by the CLI.
func String() string {
	i := Info()
	s := "vrpdicho " + i["version"]
	if c := i["commit"]; c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		s += fmt.Sprintf(" (%s)", c)
	}
	if i["go"] != "" {
		s += " " + i["go"]
	}
	return s
}
