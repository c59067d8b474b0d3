package record

// Merge folds an incoming record into the existing one without erasing known
// data. Bookkeeping fields are kept from existing. A nil existing merges into
// an empty record with the incoming key.
//
// Text and numeric fields are taken from incoming only when non-empty. A
// known incoming status replaces the existing one and the explicit no-data
// code resets it to Unknown; empty or unrecognized cells keep it. Progress
// never decreases while the cable stays Placed and is cleared whenever the
// merged status is not Placed.
func Merge(existing *Record, incoming *Record) Record {
	var out Record
	if existing != nil {
		out = *existing
	} else {
		out = Record{Key: incoming.Key}
	}

	for _, f := range TextFields {
		if v := *f.Ptr(incoming); v != "" {
			*f.Ptr(&out) = v
		}
	}
	for _, f := range NumberFields {
		if v := *f.Ptr(incoming); v.Ok {
			*f.Ptr(&out) = v
		}
	}

	wasPlaced := out.Status == StatusPlaced
	switch {
	case incoming.Status != StatusUnknown:
		out.Status, out.StatusOrigin, out.StatusRaw = incoming.Status, incoming.StatusOrigin, incoming.StatusRaw
	case incoming.StatusOrigin == OriginCode:
		out.Status, out.StatusOrigin, out.StatusRaw = StatusUnknown, OriginCode, incoming.StatusRaw
	}

	if incoming.Progress != ProgressNone {
		if !wasPlaced || incoming.Progress > out.Progress {
			out.Progress = incoming.Progress
		}
	}
	if out.Status != StatusPlaced {
		out.Progress = ProgressNone
	}
	return out
}

// MergeBatch merges every batch record into its head counterpart and returns
// the results in batch order. Head records absent from the batch are not
// returned.
func MergeBatch(head, batch []Record) []Record {
	byKey := make(map[string]*Record, len(head))
	for i := range head {
		byKey[head[i].Key] = &head[i]
	}
	out := make([]Record, len(batch))
	for i := range batch {
		out[i] = Merge(byKey[batch[i].Key], &batch[i])
	}
	return out
}
