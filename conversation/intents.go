package conversation

import "github.com/bytedance/sonic"

// intentKey canonicalizes an intent for cross-message deduplication: the
// same type with the same payload is the same fact restated. ConfigStd
// sorts map keys, so equal payloads produce equal keys.
func intentKey(in Intent) string {
	payload, err := sonic.ConfigStd.Marshal(in.Data)
	if err != nil {
		payload = nil
	}
	return in.Type + ":" + string(payload)
}

// DedupIntents collapses restated intents, keeping the highest-confidence
// occurrence of each. Order follows first appearance.
func DedupIntents(intents []Intent) []Intent {
	index := make(map[string]int, len(intents))
	out := make([]Intent, 0, len(intents))
	for _, in := range intents {
		key := intentKey(in)
		if i, ok := index[key]; ok {
			if in.Confidence > out[i].Confidence {
				out[i] = in
			}
			continue
		}
		index[key] = len(out)
		out = append(out, in)
	}
	return out
}

// GroupIntentsByType buckets intents under their type label.
func GroupIntentsByType(intents []Intent) map[string][]Intent {
	grouped := make(map[string][]Intent)
	for _, in := range intents {
		grouped[in.Type] = append(grouped[in.Type], in)
	}
	return grouped
}
