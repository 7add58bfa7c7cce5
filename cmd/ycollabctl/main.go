// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// ycollabctl joins a collaboration room from the command line: it keeps a
// replica synchronized, publishes a presence file as the local awareness
// state and exposes the session over a small HTTP status interface.
package main

import (
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/profile"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	p, watcher, status, profiling, err := parseSession(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	if profiling {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	waitSigint()
	log.Info("Shutting down..")

	if watcher != nil {
		watcher.Close()
	}
	if status != nil {
		status.Close()
	}

	if err := p.Destroy(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Shutdown errored")
	}
}
