package actions

import (
	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// Rebind adapts a reused sequence to the current task: typed values and
// option clicks produced for the original task are swapped for the current
// task's values, and the navigation target follows the current URL.
func Rebind(in []schemas.Action, from, to schemas.ParsedTask) []schemas.Action {
	texts := map[string]string{}
	add := func(old, cur string) {
		if old != "" && cur != "" && old != cur {
			texts[old] = cur
		}
	}
	add(from.Credentials.Username, to.Credentials.Username)
	add(from.Credentials.Password, to.Credentials.Password)
	add(from.Credentials.Email, to.Credentials.Email)
	add(from.TextToType, to.TextToType)
	for k, v := range from.FormFields {
		add(v, to.FormFields[k])
	}
	labels := map[string]string{}
	for k, v := range from.Filters {
		if cur := to.Filters[k]; v != "" && cur != "" && v != cur {
			labels[v] = cur
		}
	}

	out := schemas.CloneActions(in)
	for i := range out {
		a := &out[i]
		switch a.Type {
		case schemas.ActionNavigate:
			if to.URL != "" && a.URL == from.URL {
				a.URL = to.URL
			}
		case schemas.ActionTypeText:
			if cur, ok := texts[a.Text]; ok {
				a.Text = cur
			}
		case schemas.ActionClick:
			if a.Selector != nil && a.Selector.Type == schemas.SelectorTagContains {
				if cur, ok := labels[a.Selector.Value]; ok {
					a.Selector.Value = cur
				}
			}
		}
	}
	return out
}
