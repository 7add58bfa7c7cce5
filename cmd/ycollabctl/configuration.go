// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/ycollab/ycollab-go/doc"
	"github.com/ycollab/ycollab-go/provider"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core     coreConf
	Logging  logConf
	Presence presenceConf
	Status   statusConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Server           string
	Room             string
	Params           map[string]string
	ResyncIntervalMs uint `toml:"resync-interval-ms"`
	Profiling        bool
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// presenceConf describes the Presence-configuration block: a JSON file whose
// content becomes the local awareness state.
type presenceConf struct {
	File string
}

// statusConf describes the Status-configuration block, the HTTP interface.
type statusConf struct {
	Listen string
}

// parseSession creates the session based on the given TOML configuration.
func parseSession(filename string) (p *provider.Provider, watcher *presenceWatcher, status *statusServer, profiling bool, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	// Logging
	if conf.Logging.Level != "" {
		if lvl, lvlErr := log.ParseLevel(conf.Logging.Level); lvlErr != nil {
			log.WithFields(log.Fields{
				"level":    conf.Logging.Level,
				"error":    lvlErr,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.Logging.ReportCaller)

	switch conf.Logging.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}

	// Core
	if conf.Core.Server == "" {
		err = fmt.Errorf("core.server is empty")
		return
	}
	if conf.Core.Room == "" {
		err = fmt.Errorf("core.room is empty")
		return
	}

	profiling = conf.Core.Profiling

	d := doc.NewMemDoc()
	p, err = provider.New(conf.Core.Server, conf.Core.Room, d, &provider.Options{
		Params:         conf.Core.Params,
		ResyncInterval: time.Duration(conf.Core.ResyncIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return
	}

	log.WithFields(log.Fields{
		"url":    p.URL(),
		"client": d.ClientID(),
	}).Info("Joined the room")

	// Presence
	if conf.Presence.File != "" {
		if watcher, err = newPresenceWatcher(conf.Presence.File, p.Awareness()); err != nil {
			_ = p.Destroy()
			return
		}
	}

	// Status
	if conf.Status.Listen != "" {
		status = newStatusServer(conf.Status.Listen, p, d)
	}

	return
}
