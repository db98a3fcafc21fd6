package weather

// Summarize combines the data entries of a history entry into one summary per
// location. Numeric fields are averaged over the sources that reported them;
// the condition is selected by majority (first seen wins a tie).
// Sources with empty measurements do not contribute.
func Summarize(entry HistoryEntry) []LocationSummary {
	type acc struct {
		location   Location
		sums       map[string]float64
		counts     map[string]int
		conditions []Condition
		condCount  map[Condition]int
		sources    []string
	}

	var (
		order []string
		byKey = make(map[string]*acc)
	)

	for _, d := range entry.Data {
		key := d.Location.Key()
		a, ok := byKey[key]
		if !ok {
			a = &acc{
				location:  d.Location.Clone(),
				sums:      make(map[string]float64),
				counts:    make(map[string]int),
				condCount: make(map[Condition]int),
			}
			byKey[key] = a
			order = append(order, key)
		}

		if len(d.Measurements) == 0 {
			continue
		}
		a.sources = append(a.sources, d.Source.Name)

		for field, v := range d.Measurements {
			switch t := v.(type) {
			case float64:
				a.sums[field] += t
				a.counts[field]++
			case string:
				if field != FieldCondition {
					continue
				}
				c := Condition(t)
				if a.condCount[c] == 0 {
					a.conditions = append(a.conditions, c)
				}
				a.condCount[c]++
			}
		}
	}

	summaries := make([]LocationSummary, 0, len(order))
	for _, key := range order {
		a := byKey[key]

		fields := make(map[string]float64, len(a.sums))
		for field, sum := range a.sums {
			fields[field] = sum / float64(a.counts[field])
		}

		// Pick majority condition.
		bestCond := ConditionUnknown
		bestCount := 0
		for _, c := range a.conditions {
			if a.condCount[c] > bestCount {
				bestCount = a.condCount[c]
				bestCond = c
			}
		}

		summaries = append(summaries, LocationSummary{
			Location:  a.location,
			Fields:    fields,
			Condition: bestCond,
			Sources:   a.sources,
		})
	}
	return summaries
}
