// Copyright (c) 2024 Hemi Labs, Inc.
// Use of this source code is governed by the MIT License,
// which can be found in the LICENSE file.

package logbus

import (
	"github.com/dustin/go-humanize"
	"github.com/juju/loggo"
)

// Consumer is the single external renderer that drains a Bus and
// formats events through loggo, the logging library the teacher
// (service/tbc) uses throughout (loggo.GetLogger, loggo.ConfigureLoggers).
// A thin control shell / pretty-printer is explicitly out of scope
// (spec.md §1); this is the minimal ambient renderer every other
// component can run without one.
type Consumer struct {
	log      loggo.Logger
	minLevel Level
}

// NewConsumer returns a Consumer that logs through the named loggo
// logger, filtering out events below minLevel.
func NewConsumer(name string, minLevel Level) *Consumer {
	return &Consumer{log: loggo.GetLogger(name), minLevel: minLevel}
}

// Run drains bus until it is closed, formatting each admitted message.
// It is meant to run in its own goroutine; it is the bus's single
// consumer (spec.md §4.6).
func (c *Consumer) Run(bus *Bus) {
	for msg := range bus.Messages() {
		if msg.Level < c.minLevel {
			continue
		}
		c.emit(msg)
	}
}

func (c *Consumer) emit(msg Message) {
	text := msg.Event.String()
	if saved, ok := msg.Event.(SavedToDisk); ok {
		text = "saved peer database (" + humanize.Comma(int64(saved.Count)) + " peers)"
	}

	switch msg.Level {
	case Trace:
		c.log.Tracef("%s", text)
	case Debug:
		c.log.Debugf("%s", text)
	case Info:
		c.log.Infof("%s", text)
	case Warn:
		c.log.Warningf("%s", text)
	case Error:
		c.log.Errorf("%s", text)
	}
}
