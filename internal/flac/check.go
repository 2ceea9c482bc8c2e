package flac

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sentinel errors returned by CheckDeps when a required tool is missing.
var (
	ErrFlacNotFound     = errors.New("flac not found on PATH")
	ErrMetaflacNotFound = errors.New("metaflac not found on PATH")
)

// CheckDeps verifies that flac and metaflac are on PATH. Called before the
// run and scan passes so a missing toolchain fails fast instead of per file.
func CheckDeps() error {
	if _, err := exec.LookPath("flac"); err != nil {
		return ErrFlacNotFound
	}
	if _, err := exec.LookPath("metaflac"); err != nil {
		return ErrMetaflacNotFound
	}
	return nil
}

// RunCheck runs the interactive check flow: prints availability and versions
// of flac and metaflac. Informational only, it does not stop on failure.
func RunCheck(log *logrus.Logger) {
	log.Info("=== System Check ===")
	checkTool(log, "flac")
	checkTool(log, "metaflac")
}

func checkTool(log *logrus.Logger, name string) {
	if _, err := exec.LookPath(name); err != nil {
		log.Errorf("%s not found", name)
		return
	}
	out, err := exec.Command(name, "--version").Output()
	if err != nil {
		log.Warnf("%s found but --version failed: %v", name, err)
		return
	}
	log.Infof("%s: %s", name, strings.TrimSpace(string(out)))
}
