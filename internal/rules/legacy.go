package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"seedwatch/internal/model"
)

// rawGroup is the wire shape of one group within the grouped conditions
// payload.
type rawGroup struct {
	Conditions    []model.RawCondition `json:"conditions"`
	LogicOperator string                `json:"logic_operator"`
}

// rawConditionsPayload covers both storage shapes: a legacy flat rule has
// "conditions"/"logic_operator" at the top level and no "groups" key; an
// already-migrated rule has "groups" and its top-level logic_operator
// combines the group results.
type rawConditionsPayload struct {
	Groups        []rawGroup            `json:"groups,omitempty"`
	Conditions    []model.RawCondition  `json:"conditions,omitempty"`
	LogicOperator string                `json:"logic_operator"`
}

// LoadConditions decodes a rule's stored conditions JSON into its
// evaluation-ready Groups, migrating a legacy flat shape into a single
// implicit group on the fly. A legacy flat rule with zero conditions
// migrates to MatchAllLegacyEmpty rather than a zero-group rule, since the
// two have opposite match semantics (match-everything vs. match-nothing).
func LoadConditions(raw json.RawMessage) (groups []model.Group, topLogic model.LogicOperator, migratedFromLegacy bool, matchAllLegacyEmpty bool, err error) {
	if len(raw) == 0 {
		return nil, model.LogicAnd, false, false, nil
	}

	var payload rawConditionsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, model.LogicAnd, false, false, fmt.Errorf("decode conditions payload: %w", err)
	}

	if len(payload.Groups) > 0 {
		groups = make([]model.Group, len(payload.Groups))
		for i, rg := range payload.Groups {
			groups[i] = model.Group{
				Conditions:    decodeAll(rg.Conditions),
				LogicOperator: parseLogic(rg.LogicOperator),
			}
		}
		return groups, parseLogic(payload.LogicOperator), false, false, nil
	}

	if len(payload.Conditions) == 0 {
		return nil, model.LogicAnd, true, true, nil
	}

	group := model.Group{
		Conditions:    decodeAll(payload.Conditions),
		LogicOperator: parseLogic(payload.LogicOperator),
	}
	return []model.Group{group}, model.LogicAnd, true, false, nil
}

func decodeAll(raw []model.RawCondition) []model.Condition {
	out := make([]model.Condition, len(raw))
	for i, r := range raw {
		out[i] = model.DecodeCondition(r)
	}
	return out
}

func parseLogic(s string) model.LogicOperator {
	if strings.EqualFold(s, string(model.LogicOr)) {
		return model.LogicOr
	}
	return model.LogicAnd
}

// EncodeGroups re-serializes a migrated rule's Groups back into the grouped
// storage shape, for the write-back the per-user storage layer performs the
// first time it loads a legacy flat rule.
func EncodeGroups(groups []model.Group, topLogic model.LogicOperator) (json.RawMessage, error) {
	payload := rawConditionsPayload{LogicOperator: string(topLogic)}
	payload.Groups = make([]rawGroup, len(groups))
	for i, g := range groups {
		rg := rawGroup{LogicOperator: string(g.LogicOperator)}
		rg.Conditions = make([]model.RawCondition, len(g.Conditions))
		for j, c := range g.Conditions {
			rg.Conditions[j] = encodeCondition(c)
		}
		payload.Groups[i] = rg
	}
	return json.Marshal(payload)
}

func encodeCondition(c model.Condition) model.RawCondition {
	rc := model.RawCondition{Type: string(c.Type), Operator: c.Operator}
	if c.Hours != 0 {
		h := c.Hours
		rc.Hours = &h
	}
	var value interface{}
	switch c.Kind {
	case model.KindNumeric:
		value = c.Numeric
	case model.KindString:
		value = c.Text
	case model.KindBoolean:
		value = c.Boolean
	case model.KindList:
		value = c.List
	}
	raw, err := json.Marshal(value)
	if err == nil {
		rc.Value = raw
	}
	return rc
}
