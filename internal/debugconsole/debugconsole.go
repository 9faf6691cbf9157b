// Package debugconsole is an interactive REPL over the controller's live
// Snapshot, grounded on the teacher's src/debug_worker.go: a WatchSpec list
// of fields to print a changed-value row for on every tick, plus a small set
// of override commands. Simplified from the teacher's generic MQTT-topic/
// percentile-window watches (this domain has one fixed Snapshot shape, not
// an open set of Home-Assistant sensor topics) down to watching Snapshot
// struct fields by name via reflection.
package debugconsole

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"

	"github.com/libresolar/powerctl/internal/system"
)

// fieldValue renders one Snapshot field as a string, for both `list` and
// watched-row display.
func fieldValue(snap system.Snapshot, name string) (string, bool) {
	v := reflect.ValueOf(snap)
	f := v.FieldByName(name)
	if !f.IsValid() {
		return "", false
	}
	switch f.Kind() {
	case reflect.Float64:
		return fmt.Sprintf("%.2f", f.Float()), true
	case reflect.Bool:
		if f.Bool() {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprintf("%v", f.Interface()), true
	}
}

// fieldNames lists every watchable Snapshot field, in declaration order.
func fieldNames() []string {
	t := reflect.TypeOf(system.Snapshot{})
	names := make([]string, t.NumField())
	for i := range names {
		names[i] = t.Field(i).Name
	}
	return names
}

// readlineWriter redraws the readline prompt around log output, exactly as
// the teacher's own readlineWriter does for its log.Printf-based worker.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (int, error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err := os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// state tracks the set of watched fields and the last printed value of each,
// so only changed values are re-printed — same shape as the teacher's
// DebugState, minus the percentile/time-window machinery this domain has no
// analog for.
type state struct {
	watches       []string
	headerPrinted bool
	widths        []int
	prev          map[string]string
	rl            *readline.Instance
}

func newState(rl *readline.Instance) *state {
	return &state{prev: make(map[string]string), rl: rl}
}

func (s *state) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
		return
	}
	fmt.Println(line)
}

func (s *state) addWatch(field string) {
	if slices.Contains(s.watches, field) {
		s.print("already watching: %s", field)
		return
	}
	s.watches = append(s.watches, field)
	sort.Strings(s.watches)
	s.headerPrinted = false
	s.print("watching: %s", field)
}

func (s *state) removeWatch(field string) {
	if field == "--all" {
		s.watches = s.watches[:0]
		s.headerPrinted = false
		s.print("all watches removed")
		return
	}
	for i, w := range s.watches {
		if w == field {
			s.watches = slices.Delete(s.watches, i, i+1)
			s.headerPrinted = false
			s.print("unwatched: %s", field)
			return
		}
	}
	s.print("no watch for: %s", field)
}

func (s *state) printHeader() {
	if len(s.watches) == 0 {
		return
	}
	s.widths = make([]int, len(s.watches))
	parts := make([]string, len(s.watches))
	for i, w := range s.watches {
		s.widths[i] = len(w)
		parts[i] = w
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prev = make(map[string]string)
}

func (s *state) printRow(snap system.Snapshot) {
	if len(s.watches) == 0 {
		return
	}
	if !s.headerPrinted {
		s.printHeader()
	}

	parts := make([]string, len(s.watches))
	changed := false
	next := make(map[string]string, len(s.watches))
	for i, w := range s.watches {
		value, _ := fieldValue(snap, w)
		next[w] = value
		width := s.widths[i]
		if len(value) > width {
			width = len(value)
			s.widths[i] = width
		}
		if s.prev[w] != value {
			changed = true
		}
		parts[i] = fmt.Sprintf("%*s", width, value)
	}
	if changed {
		s.print("%s", strings.Join(parts, " | "))
		s.prev = next
	}
}

// Console is an interactive REPL over a *system.System, reading the latest
// Snapshot every tick and applying override commands to the live system.
type Console struct {
	sys *system.System
	log *logrus.Entry
	rl  *readline.Instance
}

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "powerctl")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// New opens the readline prompt and redirects logrus output through it so
// log lines never clobber the in-progress prompt line.
func New(sys *system.System, log *logrus.Entry) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "powerctl> ",
		HistoryFile: historyFilePath(),
	})
	if err != nil {
		return nil, fmt.Errorf("debugconsole: %w", err)
	}
	log.Logger.SetOutput(&readlineWriter{rl: rl})
	return &Console{sys: sys, log: log, rl: rl}, nil
}

// Run reads commands and prints watched rows every period until ctx is
// done or the console's stdin is closed (Ctrl+D), at which point cancel is
// NOT called: a closed debug console shouldn't bring the process down.
// Ctrl+C does call cancel, mirroring the teacher's own shutdown-on-interrupt
// behavior.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, period time.Duration) {
	defer func() { _ = c.rl.Close() }()

	fmt.Println("powerctl debug console (type 'help' for commands)")

	commands := make(chan string, 10)
	go c.readLoop(ctx, cancel, commands)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	st := newState(c.rl)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			c.handle(cmd, st)
		case <-ticker.C:
			st.printRow(c.sys.Snapshot())
		}
	}
}

func (c *Console) readLoop(ctx context.Context, cancel context.CancelFunc, commands chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return
		}
		if err != nil {
			return
		}
		if line = strings.TrimSpace(line); line != "" {
			commands <- line
		}
	}
}

func (c *Console) handle(cmd string, st *state) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		if len(parts) != 2 {
			st.print("usage: watch <field>")
			return
		}
		if _, ok := fieldValue(c.sys.Snapshot(), parts[1]); !ok {
			st.print("unknown field: %s (try 'list')", parts[1])
			return
		}
		st.addWatch(parts[1])

	case "unwatch":
		if len(parts) != 2 {
			st.print("usage: unwatch <field> | unwatch --all")
			return
		}
		st.removeWatch(parts[1])

	case "list":
		names := fieldNames()
		st.print("available fields (%d):", len(names))
		for _, n := range names {
			v, _ := fieldValue(c.sys.Snapshot(), n)
			st.print("  %-14s %s", n, v)
		}

	case "set":
		c.handleSet(parts[1:], st)

	case "request":
		if len(parts) == 2 && parts[1] == "equalization" {
			c.sys.RequestEqualization()
			c.log.Info("debug console requested equalization")
			st.print("equalization requested")
			return
		}
		st.print("usage: request equalization")

	case "help":
		st.print("commands:")
		st.print("  list                     - list every field and its current value")
		st.print("  watch <field>            - print the field's value whenever it changes")
		st.print("  unwatch <field>          - stop watching a field")
		st.print("  unwatch --all            - stop watching everything")
		st.print("  set load.enable <bool>   - override the main load output")
		st.print("  set usb.enable <bool>    - override the USB output")
		st.print("  request equalization     - request an equalization charge cycle")
		st.print("  help                     - show this help")

	default:
		st.print("unknown command: %s (try 'help')", parts[0])
	}
}

func (c *Console) handleSet(args []string, st *state) {
	if len(args) != 2 {
		st.print("usage: set <load.enable|usb.enable> <true|false>")
		return
	}
	enable, err := strconv.ParseBool(args[1])
	if err != nil {
		st.print("not a bool: %s", args[1])
		return
	}
	switch args[0] {
	case "load.enable":
		c.sys.SetLoadEnable(enable)
		c.log.WithField("load.enable", enable).Info("debug console override")
		st.print("load.enable = %v", enable)
	case "usb.enable":
		c.sys.SetUSBEnable(enable)
		c.log.WithField("usb.enable", enable).Info("debug console override")
		st.print("usb.enable = %v", enable)
	default:
		st.print("unknown setting: %s", args[0])
	}
}
