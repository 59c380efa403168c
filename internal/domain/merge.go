package domain

// Newer reports whether incoming should replace local under last-writer-wins.
// Equal timestamps favour incoming so tabs opened in the same millisecond
// converge on the network copy.
func Newer(local, incoming Room) bool {
	return incoming.UpdatedAt >= local.UpdatedAt
}

// Merge resolves two snapshots of the same room by UpdatedAt. The result only
// depends on the two values, never on arrival order: Merge(a, b) and
// Merge(b, a) pick the same winner whenever the timestamps differ.
func Merge(local, incoming Room) Room {
	if Newer(local, incoming) {
		return incoming.Clone()
	}
	return local.Clone()
}

// MergeMessages unions two message lists by id. Incoming versions replace
// local ones, except that a streaming copy never replaces a finalized one;
// messages only known locally are appended in their local order.
func MergeMessages(local, incoming []Message) []Message {
	byID := make(map[string]Message, len(local))
	for _, m := range local {
		byID[m.ID] = m
	}

	out := make([]Message, 0, len(incoming)+len(local))
	seen := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		if l, ok := byID[m.ID]; ok && m.IsStreaming && !l.IsStreaming {
			m = l
		}
		out = append(out, m)
	}
	for _, m := range local {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// SpliceStreaming puts an in-flight message back into msgs. If msgs already
// holds a finalized version of it the remote copy is kept; a remote copy that
// is still streaming is replaced by the local one, which is never older.
func SpliceStreaming(msgs []Message, owned Message) []Message {
	for i := range msgs {
		if msgs[i].ID != owned.ID {
			continue
		}
		if !msgs[i].IsStreaming {
			return msgs
		}
		out := make([]Message, len(msgs))
		copy(out, msgs)
		out[i] = owned
		return out
	}
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, owned)
}

// KeepFinalized returns incoming with every streaming message replaced by the
// local finalized version of the same id, if there is one.
func KeepFinalized(incoming, local []Message) []Message {
	final := make(map[string]Message)
	for _, m := range local {
		if !m.IsStreaming {
			final[m.ID] = m
		}
	}
	out := make([]Message, len(incoming))
	for i, m := range incoming {
		if l, ok := final[m.ID]; ok && m.IsStreaming {
			m = l
		}
		out[i] = m
	}
	return out
}
