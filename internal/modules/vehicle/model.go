// README: Vehicle reference data offered for selection.
package vehicle

type Vehicle struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	PricePerKm float64 `json:"pricePerKm"`
	Capacity   int     `json:"capacity"`
	Image      string  `json:"image,omitempty"`
}

var defaultCatalog = []Vehicle{
	{ID: "1", Type: "Mini", Name: "Namma Mini", PricePerKm: 12, Capacity: 4, Image: "https://images.pexels.com/photos/116675/pexels-photo-116675.jpeg"},
	{ID: "2", Type: "Sedan", Name: "Namma Sedan", PricePerKm: 16, Capacity: 4, Image: "https://images.pexels.com/photos/3802510/pexels-photo-3802510.jpeg"},
	{ID: "3", Type: "SUV", Name: "Namma SUV", PricePerKm: 22, Capacity: 6, Image: "https://images.pexels.com/photos/1592384/pexels-photo-1592384.jpeg"},
	{ID: "4", Type: "Premium", Name: "Namma Premium", PricePerKm: 28, Capacity: 4, Image: "https://images.pexels.com/photos/1719648/pexels-photo-1719648.jpeg"},
}

// DefaultCatalog returns a copy of the built-in catalog.
func DefaultCatalog() []Vehicle {
	out := make([]Vehicle, len(defaultCatalog))
	copy(out, defaultCatalog)
	return out
}
