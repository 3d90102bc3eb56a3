package orcid

// Wire types for the subset of the public API v3.0 the extractor reads.

type value struct {
	Value string `json:"value"`
}

type epochValue struct {
	Value int64 `json:"value"`
}

type identifier struct {
	Path string `json:"path"`
}

type record struct {
	Identifier identifier `json:"orcid-identifier"`
	Person     *person    `json:"person"`
	Activities *struct {
		LastModified *epochValue `json:"last-modified-date"`
		Employments  *groups     `json:"employments"`
		Educations   *groups     `json:"educations"`
		Works        *struct {
			Group []workGroup `json:"group"`
		} `json:"works"`
	} `json:"activities-summary"`
	History *struct {
		LastModified *epochValue `json:"last-modified-date"`
	} `json:"history"`
}

type person struct {
	Name *struct {
		GivenNames *value `json:"given-names"`
		FamilyName *value `json:"family-name"`
		CreditName *value `json:"credit-name"`
	} `json:"name"`
	Keywords *struct {
		Keyword []struct {
			Content string `json:"content"`
		} `json:"keyword"`
	} `json:"keywords"`
}

type groups struct {
	Group []struct {
		Summaries []affiliationSummary `json:"summaries"`
	} `json:"affiliation-group"`
}

type affiliationSummary struct {
	Employment *affiliation `json:"employment-summary"`
	Education  *affiliation `json:"education-summary"`
}

type affiliation struct {
	Department   string `json:"department-name"`
	Organization struct {
		Name string `json:"name"`
	} `json:"organization"`
}

type workGroup struct {
	Summaries []workSummary `json:"work-summary"`
}

type workSummary struct {
	Title *struct {
		Title *value `json:"title"`
	} `json:"title"`
	JournalTitle    *value     `json:"journal-title"`
	Type            string     `json:"type"`
	PublicationDate *fuzzyDate `json:"publication-date"`
	URL             *value     `json:"url"`
	ExternalIDs     *struct {
		ExternalID []struct {
			Type  string `json:"external-id-type"`
			Value string `json:"external-id-value"`
		} `json:"external-id"`
	} `json:"external-ids"`
}

type fuzzyDate struct {
	Year  *value `json:"year"`
	Month *value `json:"month"`
	Day   *value `json:"day"`
}

type searchResponse struct {
	NumFound int `json:"num-found"`
	Result   []struct {
		Identifier identifier `json:"orcid-identifier"`
	} `json:"result"`
}
