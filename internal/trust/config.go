package trust

type Penalties struct {
	MissingCompany     float64 `yaml:"missing_company" validate:"gte=0,lte=1"`
	MissingDescription float64 `yaml:"missing_description" validate:"gte=0,lte=1"`
	SalaryOutOfRange   float64 `yaml:"salary_out_of_range" validate:"gte=0,lte=1"`
	URLReused          float64 `yaml:"url_reused" validate:"gte=0,lte=1"`
	PostingAge         float64 `yaml:"posting_age" validate:"gte=0,lte=1"`
	RedFlag            float64 `yaml:"red_flag" validate:"gte=0,lte=1"`
	LanguageMismatch   float64 `yaml:"language_mismatch" validate:"gte=0,lte=1"`
}

type Config struct {
	// AmbiguousMin and AmbiguousMax bound the inclusive band escalated to the classifier.
	AmbiguousMin float64   `yaml:"ambiguous_min" validate:"gte=0,lte=1"`
	AmbiguousMax float64   `yaml:"ambiguous_max" validate:"gte=0,lte=1,gtefield=AmbiguousMin"`
	Penalties    Penalties `yaml:"penalties"`

	AnnualSalaryMin float64 `yaml:"annual_salary_min" validate:"gte=0"`
	AnnualSalaryMax float64 `yaml:"annual_salary_max" validate:"gtfield=AnnualSalaryMin"`

	SearchWindowDays     int `yaml:"search_window_days" validate:"gte=1"`
	FutureSkewHours      int `yaml:"future_skew_hours" validate:"gte=0"`
	MinDescriptionLength int `yaml:"min_description_length" validate:"gte=0"`

	PlaceholderDescriptions []string   `yaml:"placeholder_descriptions"`
	RedFlags                []string   `yaml:"red_flags"`
	RedFlagCombos           [][]string `yaml:"red_flag_combos" validate:"dive,min=2"`

	// ExpectedLanguage comes from the environment, not the tuning file.
	ExpectedLanguage string `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		AmbiguousMin: 0.4,
		AmbiguousMax: 0.7,
		Penalties: Penalties{
			MissingCompany:     0.35,
			MissingDescription: 0.3,
			SalaryOutOfRange:   0.2,
			URLReused:          0.3,
			PostingAge:         0.15,
			RedFlag:            0.25,
			LanguageMismatch:   0.1,
		},
		AnnualSalaryMin:      4000,
		AnnualSalaryMax:      250000,
		SearchWindowDays:     45,
		FutureSkewHours:      48,
		MinDescriptionLength: 20,
		PlaceholderDescriptions: []string{
			"n/a", "na", "tbd", "tba", "none", "null", "-", "...",
			"no description", "description coming soon", "lorem ipsum",
		},
		RedFlags: []string{
			"wire transfer",
			"western union",
			"money order",
			"processing fee",
			"registration fee",
			"training fee",
			"pay for training",
			"starter kit",
			"unlimited earning",
			"unlimited income",
			"be your own boss",
			"cash app",
			"gift card",
			"crypto payment",
		},
		RedFlagCombos: [][]string{
			{"no experience", "immediate start"},
			{"work from home", "no experience"},
			{"telegram", "interview"},
		},
	}
}
