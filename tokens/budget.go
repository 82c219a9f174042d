package tokens

// Budget tracks how many tokens remain for prompt content.
// Not safe for concurrent use.
type Budget struct {
	total    int
	reserved int
	used     int
	counter  Counter
}

// NewBudget creates a budget of total tokens with reserved tokens held
// back for the response.
func NewBudget(total, reserved int) *Budget {
	if reserved < 0 {
		reserved = 0
	}
	return &Budget{total: total, reserved: reserved, counter: Default}
}

// WithCounter sets a custom counter.
func (b *Budget) WithCounter(c Counter) *Budget {
	b.counter = c
	return b
}

// Remaining returns the tokens still available for content.
func (b *Budget) Remaining() int {
	r := b.total - b.reserved - b.used
	if r < 0 {
		return 0
	}
	return r
}

// Used returns the tokens consumed so far.
func (b *Budget) Used() int {
	return b.used
}

// Fits reports whether text fits in the remaining budget.
func (b *Budget) Fits(text string) bool {
	return b.counter.Count(text) <= b.Remaining()
}

// Consume charges text against the budget if it fits.
func (b *Budget) Consume(text string) bool {
	n := b.counter.Count(text)
	if n > b.Remaining() {
		return false
	}
	b.used += n
	return true
}
