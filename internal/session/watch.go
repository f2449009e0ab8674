package session

import "context"

var fieldNames = []struct {
	field Field
	name  string
}{
	{FieldPlugin, "plugin"},
	{FieldNetwork, "network"},
	{FieldProvider, "provider"},
	{FieldAccounts, "accounts"},
	{FieldSigner, "signer"},
	{FieldError, "error"},
}

// Names lists the fields set in f.
func (f Field) Names() []string {
	names := make([]string, 0, len(fieldNames))
	for _, n := range fieldNames {
		if f.Has(n.field) {
			names = append(names, n.name)
		}
	}
	return names
}

const watchBuffer = 16

// Watch yields the fields changed since the reader's previous receive. Changes that arrive
// while the reader is busy are merged into one value, so a slow reader never holds up Update.
// The channel is closed when ctx ends or the state is closed.
func (s *State) Watch(ctx context.Context) <-chan Field {
	in := make(chan Field, watchBuffer)
	out := make(chan Field, 1)
	sub := s.Subscribe(in)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		var pending Field
		for {
			var send chan<- Field
			if pending != 0 {
				send = out
			}
			select {
			case changed := <-in:
				pending |= changed
			case send <- pending:
				pending = 0
			case <-sub.Err():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
