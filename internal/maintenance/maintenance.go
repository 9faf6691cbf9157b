// Package maintenance schedules the controller's low-frequency upkeep jobs
// — a persistence write-through every six hours and a daily log-rotation
// touch — away from the 1 Hz housekeeping goroutine, so a slow cron tick
// can never compete with that goroutine's own timer (spec requirement, see
// DESIGN.md: src/main.go has no cron usage to ground this on directly, so
// this package is written from github.com/robfig/cron/v3's own API rather
// than an in-pack sample).
package maintenance

import (
	"os"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/system"
)

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry
}

// New builds a Scheduler logging through logAdapter so cron's own
// internal errors land in the same structured log stream as the rest of
// the process.
func New(log *logrus.Entry) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logAdapter{log})))
	return &Scheduler{cron: c, log: log}
}

// AddPersistJob registers sys's persistence write-through on spec, a
// standard five-field cron expression (e.g. "0 */6 * * *" for every six
// hours). Returns an error if spec doesn't parse.
func (m *Scheduler) AddPersistJob(spec string, sys *system.System) error {
	_, err := m.cron.AddFunc(spec, func() {
		if err := sys.Persist(); err != nil {
			m.log.WithError(err).Error("maintenance: scheduled persistence write-through failed")
			return
		}
		m.log.Info("maintenance: persistence write-through complete")
	})
	return err
}

// AddLogRotateJob registers a daily touch of path, truncating it to zero
// length: a minimal stand-in for external log rotation (logrotate,
// journald) rather than a rotation scheme of our own.
func (m *Scheduler) AddLogRotateJob(spec, path string) error {
	_, err := m.cron.AddFunc(spec, func() {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			m.log.WithError(err).Error("maintenance: log rotation failed")
			return
		}
		_ = f.Close()
		m.log.Info("maintenance: log rotated")
	})
	return err
}

// Start begins running scheduled jobs in the background.
func (m *Scheduler) Start() { m.cron.Start() }

// Stop waits for any running job to finish and stops the scheduler.
func (m *Scheduler) Stop() { <-m.cron.Stop().Done() }

type logAdapter struct{ log *logrus.Entry }

func (l logAdapter) Printf(format string, v ...any) {
	l.log.Infof(format, v...)
}
