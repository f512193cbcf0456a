package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var orderingParam = "ordering"

type OrderField struct {
	Field     string
	Ascending bool
}

// Ordering is bound from `?ordering=field1,-field2`; a leading "-" sorts descending.
type Ordering struct {
	Orderings []OrderField
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, OrderField{Field: field, Ascending: !descending})
	}
}
