package category

// StoreLabel is the category the label stage counts
const StoreLabel = "store"

// FeatureCategories are the point features counted per region.
// Competition first, then traffic drivers, then infrastructure.
func FeatureCategories() []Category {
	return []Category{
		{Name: "competitor_supermarket_count", Tags: map[string][]string{"shop": {"supermarket"}}},
		{Name: "competitor_general_store_count", Tags: map[string][]string{"shop": {"general_store"}}},

		{Name: "school_count", Tags: map[string][]string{"amenity": {"school"}}},
		{Name: "university_count", Tags: map[string][]string{"amenity": {"university"}}},
		{Name: "hospital_count", Tags: map[string][]string{"amenity": {"hospital"}}},
		{Name: "restaurant_count", Tags: map[string][]string{"amenity": {"restaurant"}}},
		{Name: "cafe_count", Tags: map[string][]string{"amenity": {"cafe"}}},
		{Name: "office_count", Tags: map[string][]string{"office": {Wildcard}}},

		{Name: "bus_stop_count", Tags: map[string][]string{"amenity": {"bus_stop"}}},
		{Name: "parking_count", Tags: map[string][]string{"amenity": {"parking"}}},
		{Name: "atm_count", Tags: map[string][]string{"amenity": {"atm"}}},
		{Name: "bank_count", Tags: map[string][]string{"amenity": {"bank"}}},
		{Name: "post_office_count", Tags: map[string][]string{"amenity": {"post_office"}}},
	}
}

// StoreCategories selects convenience-store-like shops, including the
// misspellings and capitalisations found in the wild.
func StoreCategories() []Category {
	return []Category{
		{Name: StoreLabel, Tags: map[string][]string{"shop": {
			"convenience",
			"conveneince",
			"corner_store",
			"milkbar",
			"Milk_Bar",
			"general_store",
			"General Store",
			"kiosk",
		}}},
	}
}

// DefaultFeatureRules compiles FeatureCategories
func DefaultFeatureRules() *Rules {
	r, err := Compile(FeatureCategories())
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultStoreRules compiles StoreCategories
func DefaultStoreRules() *Rules {
	r, err := Compile(StoreCategories())
	if err != nil {
		panic(err)
	}
	return r
}
