package domain

import "github.com/shopspring/decimal"

// CartLine holds the product as it was known when the line was last touched
// and the unit price captured when the line was first added.
type CartLine struct {
	Product   Product
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineTotal is UnitPrice × Quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the working set of one checkout. At most one line per product,
// kept in insertion order. Not safe for concurrent use; the owning
// terminal serializes access.
type Cart struct {
	lines []CartLine
	index map[string]int
}

func NewCart() *Cart {
	return &Cart{index: make(map[string]int)}
}

// AddItem increments the product's line by one, or inserts a new line with
// quantity 1. It rejects without mutating when the result would exceed
// product.StockQuantity.
func (c *Cart) AddItem(product Product) error {
	if i, ok := c.index[product.ID]; ok {
		line := c.lines[i]
		if line.Quantity+1 > product.StockQuantity {
			return ErrInsufficientStock
		}
		line.Quantity++
		line.Product = product
		c.lines[i] = line
		return nil
	}

	if product.StockQuantity < 1 {
		return ErrInsufficientStock
	}
	c.index[product.ID] = len(c.lines)
	c.lines = append(c.lines, CartLine{
		Product:   product,
		Quantity:  1,
		UnitPrice: product.UnitPrice,
	})
	return nil
}

// SetQuantity replaces a line's quantity. A quantity below 1 removes the
// line. availableStock must come from the latest known catalog entry, not
// from the line itself.
func (c *Cart) SetQuantity(productID string, quantity, availableStock int) error {
	if quantity < 1 {
		c.RemoveItem(productID)
		return nil
	}

	i, ok := c.index[productID]
	if !ok {
		return ErrProductNotFound
	}
	if quantity > availableStock {
		return ErrInsufficientStock
	}

	c.lines[i].Quantity = quantity
	c.lines[i].Product.StockQuantity = availableStock
	return nil
}

// RemoveItem drops the product's line. Absent products are a no-op.
func (c *Cart) RemoveItem(productID string) {
	i, ok := c.index[productID]
	if !ok {
		return
	}

	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	delete(c.index, productID)
	for j := i; j < len(c.lines); j++ {
		c.index[c.lines[j].Product.ID] = j
	}
}

// Line returns the line for productID.
func (c *Cart) Line(productID string) (CartLine, bool) {
	i, ok := c.index[productID]
	if !ok {
		return CartLine{}, false
	}
	return c.lines[i], true
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// ControlledLines returns the lines whose product needs prescription
// verification.
func (c *Cart) ControlledLines() []CartLine {
	var out []CartLine
	for _, l := range c.lines {
		if l.Product.Controlled {
			out = append(out, l)
		}
	}
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Subtotal sums captured unit price × quantity over all lines.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// Total equals Subtotal; no tax or discount rules apply at the register.
func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal()
}

func (c *Cart) Clear() {
	c.lines = nil
	c.index = make(map[string]int)
}
