package clearcase

import "io"

// ForkWriter duplicates every write to each destination in a fixed order.
// Unlike io.MultiWriter it attempts all destinations even when one of them
// fails, so a broken caller stream cannot starve the job log (or the
// reverse). The first error encountered is returned after the full pass;
// there is no rollback across destinations.
type ForkWriter struct {
	dests []io.Writer
}

// NewForkWriter returns a writer fanning out to dests in the given order.
func NewForkWriter(dests ...io.Writer) *ForkWriter {
	return &ForkWriter{dests: dests}
}

func (w *ForkWriter) Write(p []byte) (int, error) {
	var firstErr error
	for _, d := range w.dests {
		if _, err := d.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(p), firstErr
}
