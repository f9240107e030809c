package category

// ID of the pseudo-category for free-form tasks. Custom tasks carry their
// own label and skip price bounds.
const CustomID = "custom"

// Category is a task category with advisory price bounds in paisa.
type Category struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	MinPrice int64  `yaml:"min_price"`
	MaxPrice int64  `yaml:"max_price"`
}

// Defaults seeded on first boot.
func Defaults() []*Category {
	return []*Category{
		{ID: "delivery", Name: "Delivery", MinPrice: 5000, MaxPrice: 50000},
		{ID: "errand", Name: "Errand", MinPrice: 0, MaxPrice: 10000000},
		{ID: "shopping", Name: "Shopping", MinPrice: 0, MaxPrice: 10000000},
		{ID: "pickup", Name: "Pickup & Drop", MinPrice: 0, MaxPrice: 10000000},
	}
}
