package results

import "fmt"

// CommitPlan is the ordered list of commands one commit submits.
type CommitPlan struct {
	Commands []UpdateCommand `json:"commands"`
	Defaults int             `json:"defaults"`
}

func (p CommitPlan) Empty() bool { return len(p.Commands) == 0 }

// BuildCommands folds drafts and the default-injection rules into the
// commands of one bulk update. Draft commands come first, in the order their
// analytes appear on the order; injected defaults follow. Every chemical
// analyte of a sectioned line that has neither a persisted value nor a draft
// receives its default text. Neither order nor drafts are modified.
func BuildCommands(order *Order, drafts DraftMap, rules Rules) (CommitPlan, error) {
	var plan CommitPlan
	if order == nil {
		return plan, nil
	}

	seen := make(map[string]bool, len(drafts))
	for _, line := range order.Lines {
		for _, a := range line.Analytes {
			d, ok := drafts[a.ID]
			if !ok {
				continue
			}
			if d.Kind == "" {
				d.Kind = a.ItemDef.Kind
			}
			v, err := CoerceDraft(d)
			if err != nil {
				return CommitPlan{}, err
			}
			plan.Commands = append(plan.Commands, UpdateCommand{
				OrderLineID: line.ID,
				AnalyteID:   a.ID,
				Value:       v,
			})
			seen[a.ID] = true
		}
	}
	for id := range drafts {
		if !seen[id] {
			return CommitPlan{}, fmt.Errorf("%w: %s", ErrUnknownAnalyte, id)
		}
	}

	for _, line := range order.Lines {
		if !rules.IsSectioned(line) {
			continue
		}
		for _, a := range Classify(line.Analytes).Chemical {
			if a.HasValue() || seen[a.ID] {
				continue
			}
			plan.Commands = append(plan.Commands, UpdateCommand{
				OrderLineID: line.ID,
				AnalyteID:   a.ID,
				Value:       TextValue(rules.ChemicalDefault(a)),
				Defaulted:   true,
			})
			plan.Defaults++
		}
	}
	return plan, nil
}
