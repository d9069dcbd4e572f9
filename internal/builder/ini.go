package builder

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/fwbuilder/internal/board"
	"git.home.luguber.info/inful/fwbuilder/internal/library"
)

// renderINI generates the platformio.ini for one build. The environment name
// doubles as the artifact directory under .pio/build/, so it must match the
// profile's board name.
func renderINI(profile board.Profile, flags []string, installed []library.Installed) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[env:%s]\n", profile.Board)
	fmt.Fprintf(&b, "platform = %s\n", profile.Platform)
	fmt.Fprintf(&b, "board = %s\n", profile.Board)
	b.WriteString("framework = arduino\n")
	b.WriteString("build_type = release\n")
	b.WriteString("lib_ldf_mode = deep+\n")

	// -w first so the sketch compiles quietly; profile and request flags may
	// re-enable specific warnings.
	buildFlags := []string{"-w"}
	buildFlags = append(buildFlags, profile.ExtraFlags...)
	buildFlags = append(buildFlags, flags...)
	for _, lib := range installed {
		buildFlags = append(buildFlags, fmt.Sprintf("-I'%s'", lib.SourceDir()))
	}
	fmt.Fprintf(&b, "build_flags = %s\n", strings.Join(buildFlags, " "))

	deps := []string{"SPI", "Wire"}
	for _, lib := range installed {
		deps = append(deps, lib.SourceDir())
	}
	fmt.Fprintf(&b, "lib_deps =\n")
	for _, dep := range deps {
		fmt.Fprintf(&b, "    %s\n", dep)
	}

	return b.String()
}
