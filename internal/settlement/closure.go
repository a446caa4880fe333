package settlement

// OrdersToClose returns the open orders to transition to paid. It is empty
// unless the remaining balance is within tolerance.
func OrdersToClose(b Balance) []int64 {
	if !b.Settled() {
		return nil
	}
	ids := make([]int64, 0, len(b.Orders))
	for _, o := range b.Orders {
		if o.Status.Open() {
			ids = append(ids, o.OrderID)
		}
	}
	return ids
}
