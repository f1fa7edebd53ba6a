package jobs

import "github.com/mealplanhq/mealplan/internal/store"

// Slot is one recipe position of a monthly plan.
type Slot struct {
	Index    int
	MealType string
}

// Layout returns the slots of a month: one dinner per day followed by the
// snacks.
func Layout(days, snacks int) []Slot {
	slots := make([]Slot, 0, days+snacks)
	for range days {
		slots = append(slots, Slot{Index: len(slots), MealType: store.MealDinner})
	}
	for range snacks {
		slots = append(slots, Slot{Index: len(slots), MealType: store.MealSnack})
	}
	return slots
}

// PhaseSlots returns the slots filled by the 1-based phase when the layout is
// split evenly across total phases.
func PhaseSlots(layout []Slot, phase, total int) []Slot {
	if total < 1 {
		total = 1
	}
	if phase < 1 || phase > total {
		return nil
	}
	n := len(layout)
	return layout[(phase-1)*n/total : phase*n/total]
}

// byMealType groups slots in layout order.
func byMealType(slots []Slot) (order []string, groups map[string][]Slot) {
	groups = map[string][]Slot{}
	for _, s := range slots {
		if _, ok := groups[s.MealType]; !ok {
			order = append(order, s.MealType)
		}
		groups[s.MealType] = append(groups[s.MealType], s)
	}
	return order, groups
}
