package deltasync

// Entity types mirrored from the portal. Each gets its own engine
// instance, checkpoint row, and hash namespace.
const (
	Customers = "customers"
	Products  = "products"
	Prices    = "prices"
	Orders    = "orders"
	Shipments = "shipments"
	Invoices  = "invoices"
)

// EntityTypes lists every mirrored entity type in sync order.
func EntityTypes() []string {
	return []string{Customers, Products, Prices, Orders, Shipments, Invoices}
}

// ValidEntityType reports whether t names a mirrored entity type.
func ValidEntityType(t string) bool {
	for _, e := range EntityTypes() {
		if e == t {
			return true
		}
	}
	return false
}
