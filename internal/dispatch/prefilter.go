// Package dispatch implements the action dispatcher: pre-filtering a rule
// match set down to the items an action would actually change, then
// executing the action against the external API and local storage.
package dispatch

import (
	"seedwatch/internal/classify"
	"seedwatch/internal/model"
)

// PreFilter drops items an action would be a no-op against, so the
// dispatcher never issues a control-torrent call that changes nothing and
// never logs a spurious execution count. itemTags is only consulted for
// add_tag/remove_tag; callers may pass nil for every other action type.
func PreFilter(action model.Action, items []model.Item, itemTags map[string][]int64) []model.Item {
	switch action.Type {
	case model.ActionAddTag:
		return filter(items, func(it model.Item) bool { return !hasAll(itemTags[it.ID], action.TagIDs) })
	case model.ActionRemoveTag:
		return filter(items, func(it model.Item) bool { return hasAny(itemTags[it.ID], action.TagIDs) })
	case model.ActionStopSeeding:
		return filter(items, func(it model.Item) bool { return classify.Classify(it) == model.StatusSeeding })
	case model.ActionForceStart:
		return filter(items, func(it model.Item) bool { return classify.Classify(it) == model.StatusQueued })
	case model.ActionArchive, model.ActionDelete:
		return items
	default:
		return nil
	}
}

func filter(items []model.Item, keep func(model.Item) bool) []model.Item {
	var out []model.Item
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func hasAll(have, want []int64) bool {
	set := toSet(have)
	for _, id := range want {
		if !set[id] {
			return false
		}
	}
	return true
}

func hasAny(have, want []int64) bool {
	set := toSet(have)
	for _, id := range want {
		if set[id] {
			return true
		}
	}
	return false
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
