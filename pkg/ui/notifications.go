package ui

import (
	"fmt"
	"os/exec"
	"runtime"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// commandSender runs a platform notification tool
type commandSender struct {
	build func(title, message string) *exec.Cmd
}

func (c commandSender) Send(title, message string) error {
	return c.build(title, message).Run()
}

// Notifier reports the end of a batch on the console and, where supported,
// as a desktop notification
type Notifier struct {
	sender NotificationSender
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier() *Notifier {
	return &Notifier{sender: platformSender(runtime.GOOS)}
}

// NewNotifierWithSender creates a Notifier using sender; nil disables desktop delivery
func NewNotifierWithSender(sender NotificationSender) *Notifier {
	return &Notifier{sender: sender}
}

func platformSender(goos string) NotificationSender {
	switch goos {
	case "linux", "freebsd":
		return commandSender{build: func(title, message string) *exec.Cmd {
			return exec.Command("notify-send", title, message)
		}}
	case "darwin":
		return commandSender{build: func(title, message string) *exec.Cmd {
			script := fmt.Sprintf("display notification %q with title %q", message, title)
			return exec.Command("osascript", "-e", script)
		}}
	default:
		return nil
	}
}

// BatchFinished announces the outcome of a batch
func (n *Notifier) BatchFinished(p Progress) {
	title := "bulkgrab finished"
	message := fmt.Sprintf("%d completed, %d failed", p.Completed, p.Failed)

	if p.Failed > 0 {
		fmt.Fprintf(Out, "\n%s: %s\n", Yellow(title), Yellow(message))
	} else {
		fmt.Fprintf(Out, "\n%s: %s\n", Green(title), Green(message))
	}

	// Delivery failures are not worth surfacing
	if n.sender != nil {
		_ = n.sender.Send(title, message)
	}
}
