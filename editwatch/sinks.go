package editwatch

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/editkit/editwatch/internal/sink"
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// Change is one flushed group of records.
type Change = mutation.Change

// Sink is the output interface for flushed changes.
type Sink = sink.Sink

// Store is the SQLite change history.
type Store = sink.Store

// ListOptions filters Store.List.
type ListOptions = sink.ListOptions

// ChangeFunc is called for each change.
type ChangeFunc = sink.ChangeFunc

// ErrNotFound is returned by Store.Get for an unknown change ID.
var ErrNotFound = sink.ErrNotFound

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn ChangeFunc) Sink {
	return sink.NewCallback(fn)
}

// OpenStore opens (or creates) the SQLite history at path.
func OpenStore(path string) (*Store, error) {
	return sink.OpenStore(path)
}

// SinksFromConfig builds the sinks listed in cfg. Without any entry the
// changes go to stdout.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		case "sqlite":
			st, err := OpenStore(cfg.History.Path)
			if err != nil {
				for _, s := range sinks {
					s.Close()
				}
				return nil, fmt.Errorf("editwatch: open history: %w", err)
			}
			sinks = append(sinks, st)
		default:
			logger.Warn("editwatch: unknown sink type", "type", sc.Type)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewStdoutSink(nil))
	}
	return sinks, nil
}
