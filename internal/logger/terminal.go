package logger

import "github.com/mattn/go-isatty"

// isTerminal reports whether the file descriptor is attached to a TTY,
// which controls whether the text handler emits ANSI colors.
func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
