package cli

import (
	"os"
	"strings"
)

func isTerminalFD(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func isInteractiveTerminal() bool {
	if !isTerminalFD(os.Stdin) || !isTerminalFD(os.Stdout) {
		return false
	}
	term := strings.TrimSpace(strings.ToLower(os.Getenv("TERM")))
	return term != "" && term != "dumb"
}

func shouldUseUI(isTTY, noUI bool) bool {
	return isTTY && !noUI
}
