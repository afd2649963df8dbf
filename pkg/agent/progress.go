package agent

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

const progressBuffer = 16

// progressRelay hands events to a callback on its own goroutine. emit never
// blocks; events are dropped when the buffer is full.
type progressRelay struct {
	events chan ProgressEvent
}

func newProgressRelay(fn ProgressFunc) *progressRelay {
	if fn == nil {
		return nil
	}
	r := &progressRelay{events: make(chan ProgressEvent, progressBuffer)}
	go func() {
		for ev := range r.events {
			deliver(fn, ev)
		}
	}()
	return r
}

func deliver(fn ProgressFunc, ev ProgressEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("panic", fmt.Sprint(rec)).Msg("Progress callback panicked")
		}
	}()
	fn(ev)
}

func (r *progressRelay) emit(ev ProgressEvent) {
	if r == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
		log.Debug().Str("kind", string(ev.Kind)).Msg("Progress event dropped")
	}
}

// close stops accepting events. Buffered events are still delivered, but
// close does not wait for the callback.
func (r *progressRelay) close() {
	if r == nil {
		return
	}
	close(r.events)
}

var hintKeys = []string{"query", "url", "command", "path", "pattern", "keyword", "fact", "content"}

const maxHintRunes = 40

// toolDetail renders "name: hint" using the most telling string argument.
func toolDetail(name string, args map[string]interface{}) string {
	for _, key := range hintKeys {
		v, ok := args[key].(string)
		if !ok || v == "" {
			continue
		}
		runes := []rune(v)
		if len(runes) > maxHintRunes {
			v = string(runes[:maxHintRunes]) + "..."
		}
		return name + ": " + v
	}
	return name
}
