// Package sigs provides channel-based access to OS termination signals.
package sigs

import (
	"os"
	"os/signal"
	"syscall"
)

// Terminate returns a channel that receives SIGINT or SIGTERM.
func Terminate() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
