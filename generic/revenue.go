package generic

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// RevenueLine aggregates invoices of one kind (or all kinds).
type RevenueLine struct {
	Kind         string
	TotalPaid    decimal.Decimal
	TotalPending decimal.Decimal
	CountPaid    int
	CountPending int
}

func (l *RevenueLine) add(inv Invoice) {
	if inv.IsPaid {
		l.TotalPaid = l.TotalPaid.Add(inv.Total)
		l.CountPaid++
		return
	}
	l.TotalPending = l.TotalPending.Add(inv.Total)
	l.CountPending++
}

// RevenueSummary is the admin revenue report over a generation-date range.
type RevenueSummary struct {
	From     *Date
	To       *Date
	Kinds    []RevenueLine
	Combined RevenueLine
}

// Revenue totals paid and pending invoices generated in [from, to].
// Nil bounds are open.
func (s *InvoiceService) Revenue(ctx context.Context, actor Actor, from, to *Date) (*RevenueSummary, error) {
	if err := Authorize(actor, CapViewAll); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, newError(ErrValidation, "revenue range ends before it starts")
	}
	invoices, err := s.Store.FindInvoices(ctx, InvoiceFilter{GeneratedFrom: from, GeneratedTo: to})
	if err != nil {
		return nil, fmt.Errorf("find invoices: %w", err)
	}

	lines := make(map[string]*RevenueLine)
	for _, k := range ListKinds() {
		lines[k.KindID()] = &RevenueLine{Kind: k.KindID()}
	}
	sum := &RevenueSummary{From: from, To: to, Combined: RevenueLine{Kind: "all"}}
	for _, inv := range invoices {
		line, ok := lines[inv.Kind]
		if !ok {
			line = &RevenueLine{Kind: inv.Kind}
			lines[inv.Kind] = line
		}
		line.add(inv)
		sum.Combined.add(inv)
	}
	for _, l := range lines {
		sum.Kinds = append(sum.Kinds, *l)
	}
	sort.Slice(sum.Kinds, func(i, j int) bool { return sum.Kinds[i].Kind < sum.Kinds[j].Kind })
	return sum, nil
}
