package checkout

// Package is a purchasable credit bundle.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"priceCents"`
}

// Packages is the hardcoded package catalogue.
var Packages = map[string]Package{
	"starter": {
		ID:         "starter",
		Name:       "Starter",
		Credits:    5000,
		PriceCents: 900,
	},
	"growth": {
		ID:         "growth",
		Name:       "Growth",
		Credits:    15000,
		PriceCents: 2400,
	},
	"scale": {
		ID:         "scale",
		Name:       "Scale",
		Credits:    50000,
		PriceCents: 6900,
	},
	"enterprise": {
		ID:         "enterprise",
		Name:       "Enterprise",
		Credits:    200000,
		PriceCents: 24900,
	},
}

// ValidPackage returns true if the package id is recognised.
func ValidPackage(id string) bool {
	_, ok := Packages[id]
	return ok
}
