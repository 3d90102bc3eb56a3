package serpapi

// authorResponse is the google_scholar_author payload.
type authorResponse struct {
	Error  string `json:"error"`
	Author *struct {
		Name         string `json:"name"`
		Affiliations string `json:"affiliations"`
		Interests    []struct {
			Title string `json:"title"`
		} `json:"interests"`
	} `json:"author"`
	Articles []article `json:"articles"`
	CitedBy  *struct {
		Table []tableRow `json:"table"`
		Graph []struct {
			Year      int `json:"year"`
			Citations int `json:"citations"`
		} `json:"graph"`
	} `json:"cited_by"`
}

type article struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Authors     string `json:"authors"`
	Publication string `json:"publication"`
	Year        string `json:"year"`
	CitedBy     *struct {
		Value *int `json:"value"`
	} `json:"cited_by"`
}

type tableRow struct {
	Citations *stat `json:"citations"`
	HIndex    *stat `json:"h_index"`
	I10Index  *stat `json:"i10_index"`
}

type stat struct {
	All int `json:"all"`
}

// profilesResponse is the google_scholar_profiles payload.
type profilesResponse struct {
	Error    string    `json:"error"`
	Profiles []Profile `json:"profiles"`
}

// Profile is one author card returned by a profile search.
type Profile struct {
	AuthorID     string `json:"author_id"`
	Name         string `json:"name"`
	Affiliations string `json:"affiliations"`
	Link         string `json:"link"`
}
