package engineer

// Denominators of the default feature set
const (
	BasePopulation = "population"
	BaseArea       = "area"
	BaseHouseholds = "households"
	BaseWorkers    = "workers"
)

func cols(names ...string) Expr { return Expr{Add: names} }

// DefaultSpec is the feature set built from ABS census packs G01 (persons),
// G33 (household income) and G62 (travel to work) plus the OSM counts.
// Census features are required; OSM densities are optional so a reduced
// category list still produces a table.
func DefaultSpec() *Spec {
	return &Spec{
		Bases: []Base{
			{Name: BasePopulation, Expr: cols("Tot_P_P"), Zero: 1},
			{Name: BaseArea, Expr: cols("AREA_ALBERS_SQKM"), Zero: 0.01},
			{Name: BaseHouseholds, Expr: cols("Tot_Tot"), Zero: 1},
			{Name: BaseWorkers, Expr: Expr{Add: []string{"Tot_P"}, Sub: []string{"Did_not_go_to_work_P", "Worked_home_P"}}, Zero: 1},
		},
		Features: []Feature{
			{Name: "pop_density", Numerator: cols("Tot_P_P"), Base: BaseArea},
			{Name: "core_consumer", Numerator: cols("Age_25_34_yr_P", "Age_35_44_yr_P", "Age_45_54_yr_P"), Base: BasePopulation},
			{Name: "students", Numerator: cols("Age_psns_att_edu_inst_15_19_P", "Age_psns_att_edu_inst_20_24_P"), Base: BasePopulation},
			{Name: "highly_educated", Numerator: cols("High_yr_schl_comp_Yr_12_eq_P"), Base: BasePopulation},

			{Name: "high_income", Numerator: cols("HI_2000_2499_Tot"), Base: BaseHouseholds},
			{Name: "mid_income", Numerator: cols("HI_1500_1749_Tot", "HI_2000_2499_Tot"), Base: BaseHouseholds},
			{Name: "low_income", Numerator: cols("Negative_Nil_income_Tot"), Base: BaseHouseholds},

			{Name: "bus", Numerator: cols("One_method_Bus_P"), Base: BaseWorkers},
			{Name: "walk", Numerator: cols("One_method_Walked_only_P"), Base: BaseWorkers},

			{Name: "competitor_density", Numerator: cols("competitor_supermarket_count"), Base: BaseArea, Optional: true},
			{Name: "food_density", Numerator: cols("cafe_count", "restaurant_count"), Base: BaseArea, Optional: true},
			{Name: "finance_density", Numerator: cols("atm_count", "bank_count"), Base: BaseArea, Optional: true},
			{Name: "community_density", Numerator: cols("hospital_count", "school_count", "university_count"), Base: BaseArea, Optional: true},
			{Name: "other_store_density", Numerator: cols("office_count"), Base: BaseArea, Optional: true},
			{Name: "traffic_density", Numerator: cols("parking_count", "post_office_count"), Base: BaseArea, Optional: true},
		},
	}
}

// CensusColumns lists the census attributes DefaultSpec reads, grouped by pack
func CensusColumns() map[string][]string {
	return map[string][]string{
		"G01": {
			"Tot_P_P", "AREA_ALBERS_SQKM",
			"Age_25_34_yr_P", "Age_35_44_yr_P", "Age_45_54_yr_P",
			"Age_psns_att_edu_inst_15_19_P", "Age_psns_att_edu_inst_20_24_P",
			"High_yr_schl_comp_Yr_12_eq_P",
		},
		"G33": {"Tot_Tot", "HI_1500_1749_Tot", "HI_2000_2499_Tot", "Negative_Nil_income_Tot"},
		"G62": {"Tot_P", "Did_not_go_to_work_P", "Worked_home_P", "One_method_Bus_P", "One_method_Walked_only_P"},
	}
}
