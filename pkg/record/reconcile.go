package record

// Reconcile fills every key of template that is missing (or nil) in target
// with a deep copy of the template value, recursing into keys that hold
// mappings on both sides. Keys absent from the template are kept and
// existing values are never overwritten, even when their type differs.
//
// Reconcile mutates target and returns it; a nil target yields a copy of the
// template.
func Reconcile(target, template Data) Data {
	return reconcile(target, template, false)
}

// ReconcileReplacingTypes behaves like Reconcile but lets the template value
// win whenever the target holds a value of a different kind.
func ReconcileReplacingTypes(target, template Data) Data {
	return reconcile(target, template, true)
}

func reconcile(target, template Data, replaceTypes bool) Data {
	if target == nil {
		return Clone(template)
	}

	for k, tv := range template {
		cur, found := target[k]
		if !found || cur == nil {
			target[k] = CloneValue(tv)
			continue
		}

		curMap, curIsMap := cur.(map[string]any)
		tplMap, tplIsMap := tv.(map[string]any)
		if curIsMap && tplIsMap {
			target[k] = reconcile(curMap, tplMap, replaceTypes)
			continue
		}

		if replaceTypes && kindOf(cur) != kindOf(tv) {
			target[k] = CloneValue(tv)
		}
	}
	return target
}

type kind int

const (
	kindOther kind = iota
	kindNumber
	kindString
	kindBool
	kindMap
	kindSequence
)

func kindOf(v any) kind {
	if _, ok := toFloat(v); ok {
		return kindNumber
	}
	switch v.(type) {
	case string:
		return kindString
	case bool:
		return kindBool
	case map[string]any, map[any]any:
		return kindMap
	case []any, []string:
		return kindSequence
	default:
		return kindOther
	}
}
