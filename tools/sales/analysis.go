package sales

import (
	"fmt"
	"sort"
	"strings"
)

// StoreTotal is the aggregate of one store.
type StoreTotal struct {
	Store   int
	Units   int
	Revenue float64
}

// Analysis summarizes a set of rows.
type Analysis struct {
	Rows          int
	Units         int
	Revenue       float64
	PromotionRows int
	Stores        []StoreTotal
	// BestStore has the highest revenue; ties go to the lower store number.
	BestStore int
}

// Analyze computes totals per store.
func Analyze(rows []Row) Analysis {
	a := Analysis{Rows: len(rows)}
	byStore := map[int]*StoreTotal{}
	for _, r := range rows {
		a.Units += r.Units
		a.Revenue += r.Revenue()
		if r.OnPromotion {
			a.PromotionRows++
		}
		st, ok := byStore[r.Store]
		if !ok {
			st = &StoreTotal{Store: r.Store}
			byStore[r.Store] = st
		}
		st.Units += r.Units
		st.Revenue += r.Revenue()
	}

	for _, st := range byStore {
		a.Stores = append(a.Stores, *st)
	}
	sort.Slice(a.Stores, func(i, j int) bool { return a.Stores[i].Store < a.Stores[j].Store })

	best := -1
	for i, st := range a.Stores {
		if best < 0 || st.Revenue > a.Stores[best].Revenue {
			best = i
		}
	}
	if best >= 0 {
		a.BestStore = a.Stores[best].Store
	}
	return a
}

func (x Analysis) String() string {
	if x.Rows == 0 {
		return "No sales rows matched the request."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d rows across %d stores: %d units, revenue %.2f.", x.Rows, len(x.Stores), x.Units, x.Revenue)
	fmt.Fprintf(&b, " %d of %d rows were on promotion.", x.PromotionRows, x.Rows)
	for _, st := range x.Stores {
		fmt.Fprintf(&b, " Store %d: %d units, revenue %.2f.", st.Store, st.Units, st.Revenue)
	}
	fmt.Fprintf(&b, " Best store is %d.", x.BestStore)
	return b.String()
}
