// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/fsnotify/fsnotify"

	"github.com/ycollab/ycollab-go/awareness"
)

// presenceWatcher mirrors a JSON file into the local awareness state: every
// write to the file becomes the new state, a deletion removes it.
type presenceWatcher struct {
	file    string
	aw      *awareness.Awareness
	watcher *fsnotify.Watcher

	stopChan chan struct{}
}

// newPresenceWatcher publishes the file's current content and follows it.
//
// The watch is placed on the file's directory; editors replacing the file
// atomically would escape a watch on the file itself.
func newPresenceWatcher(file string, aw *awareness.Awareness) (*presenceWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	pw := &presenceWatcher{
		file:     file,
		aw:       aw,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}

	pw.publish()
	go pw.handler()

	return pw, nil
}

// publish reads the file and assigns its content as the local state.
func (pw *presenceWatcher) publish() {
	logger := log.WithField("file", pw.file)

	data, err := os.ReadFile(pw.file)
	if os.IsNotExist(err) {
		if setErr := pw.aw.SetLocalState(nil); setErr != nil {
			logger.WithError(setErr).Error("Removing presence state errored")
		}
		return
	} else if err != nil {
		logger.WithError(err).Error("Reading presence file errored")
		return
	}

	if !json.Valid(data) {
		logger.Warn("Presence file is no valid JSON; skipping")
		return
	}

	if err := pw.aw.SetLocalState(json.RawMessage(data)); err != nil {
		logger.WithError(err).Error("Assigning presence state errored")
	}
}

func (pw *presenceWatcher) handler() {
	for {
		select {
		case <-pw.stopChan:
			return

		case e, ok := <-pw.watcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != filepath.Clean(pw.file) {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				log.WithFields(log.Fields{
					"file":      e.Name,
					"operation": e.Op.String(),
				}).Debug("Ignoring fsnotify event")
				continue
			}

			pw.publish()

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
		}
	}
}

// Close the watcher.
func (pw *presenceWatcher) Close() {
	close(pw.stopChan)
	if err := pw.watcher.Close(); err != nil {
		log.WithError(err).Warn("Closing file watcher errored")
	}
}

func (pw *presenceWatcher) String() string {
	return fmt.Sprintf("presenceWatcher(%s)", pw.file)
}
