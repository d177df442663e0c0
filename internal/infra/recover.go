package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Recoverable runs f and restarts it after a panic, at most maxPanics times;
// a negative maxPanics never gives up. It returns f's error, or an error once
// the panic budget is spent.
func Recoverable(id string, maxPanics int, f func() error) error {
	entry := log.WithField("job", id)
	for {
		recovered, err := runGuarded(f)
		if !recovered {
			return err
		}
		if maxPanics == 0 {
			return fmt.Errorf("job %q: panics limit exceeded", id)
		}
		if maxPanics > 0 {
			maxPanics--
		}
		entry.WithField("panics_left", maxPanics).Debug("restarting job")
	}
}

func runGuarded(f func() error) (recovered bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"panic":    r,
				"location": identifyPanic(),
			}).Error("job panicked")
			recovered = true
		}
	}()
	return false, f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(4, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return fmt.Sprintf("pc:%x", pc)
}
