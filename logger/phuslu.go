package logger

import (
	"fmt"
	"time"

	phlog "github.com/oarkflow/log"
)

// PhusluLogger writes through the package-level oarkflow/log logger.
type PhusluLogger struct{}

func NewPhusluLogger() *PhusluLogger { return &PhusluLogger{} }

func (p *PhusluLogger) Debug(msg string, keyvals ...any) { write(phlog.Debug(), msg, keyvals) }
func (p *PhusluLogger) Info(msg string, keyvals ...any)  { write(phlog.Info(), msg, keyvals) }
func (p *PhusluLogger) Warn(msg string, keyvals ...any)  { write(phlog.Warn(), msg, keyvals) }
func (p *PhusluLogger) Error(msg string, keyvals ...any) { write(phlog.Error(), msg, keyvals) }

func write(b *phlog.Entry, msg string, keyvals []any) {
	if b == nil {
		return
	}
	for i := 0; i < len(keyvals)-1; i += 2 {
		ks := fmt.Sprint(keyvals[i])
		switch vv := keyvals[i+1].(type) {
		case string:
			b = b.Str(ks, vv)
		case bool:
			b = b.Bool(ks, vv)
		case int:
			b = b.Int(ks, vv)
		case int64:
			b = b.Int64(ks, vv)
		case time.Time:
			b = b.Time(ks, vv)
		case error:
			b = b.Str(ks, vv.Error())
		default:
			b = b.Any(ks, vv)
		}
	}
	b.Msg(msg)
}
