package dispatch

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"
)

// OrderIDPattern matches every generated order id
var OrderIDPattern = regexp.MustCompile(`^ORD-\d{6}-\d{6}-\d{4}$`)

// NewOrderID builds ORD-{YYMMDD}-{HHMMSS}-{4 random digits}. Ids are not
// guaranteed unique; a collision surfaces as a duplicate insert.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s-%04d", now.Format("060102"), now.Format("150405"), rand.IntN(10000))
}

// newOrderIDExcept retries until the id differs from prev
func newOrderIDExcept(gen func() string, prev string) string {
	id := gen()
	for id == prev {
		id = gen()
	}
	return id
}
