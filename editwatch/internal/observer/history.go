package observer

import (
	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// save is the coalescer's History. It runs under o.mu, copies the records
// (the coalescer reuses its buffer) and hands the change to the sink.
// Sink errors are logged: from the coalescer's side a save never fails.
func (o *Observer) save(records []mutation.Record) {
	o.seq++
	change := mutation.Change{
		ID:        o.cfg.NewID(),
		SessionID: o.cfg.SessionID,
		Seq:       o.seq,
		Ticks:     o.co.Ticks(),
		Records:   make([]mutation.Record, len(records)),
		Timestamp: o.cfg.Clock.Now().UnixMilli(),
	}
	copy(change.Records, records)

	if o.cfg.Sanitizer != nil {
		for i := range change.Records {
			if change.Records[i].HTML != "" {
				change.Records[i].HTML = o.cfg.Sanitizer.Sanitize(change.Records[i].HTML)
			}
		}
	}

	if o.cfg.Sink == nil {
		return
	}
	if err := o.cfg.Sink.Save(o.ctx, change); err != nil {
		o.logger.Error("observer: save change failed", "seq", change.Seq, "error", err)
		return
	}
	o.logger.Debug("observer: change saved",
		"seq", change.Seq, "records", len(change.Records), "ticks", change.Ticks)
}
