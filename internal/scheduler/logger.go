package scheduler

import (
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

type gocronLogger struct {
	l zerolog.Logger
}

// NewLogger adapts a zerolog logger to gocron.Logger. gocron's chatty
// info lines are demoted to debug.
//
//nolint:ireturn // gocron takes the interface
func NewLogger(l zerolog.Logger) gocron.Logger {
	return &gocronLogger{l: l}
}

func (g *gocronLogger) Debug(msg string, args ...any) { g.emit(g.l.Debug(), msg, args) }
func (g *gocronLogger) Info(msg string, args ...any)  { g.emit(g.l.Debug(), msg, args) }
func (g *gocronLogger) Warn(msg string, args ...any)  { g.emit(g.l.Warn(), msg, args) }
func (g *gocronLogger) Error(msg string, args ...any) { g.emit(g.l.Error(), msg, args) }

// emit turns gocron's key/value pairs into fields. A trailing key without
// a value is logged under "extra".
func (g *gocronLogger) emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			ev = ev.Interface("extra", args[i])
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
