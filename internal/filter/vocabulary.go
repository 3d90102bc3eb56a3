package filter

// Group classifies vocabulary entries.
type Group int

const (
	// Population terms name older people directly.
	Population Group = iota + 1
	// Process terms name the aging process. They are ignored next to non-human context markers.
	Process
	// Field terms name the discipline or its clinical topics.
	Field
	// Institutional terms name bodies whose output is in scope regardless of wording.
	Institutional
)

// Term is one vocabulary entry.
type Term struct {
	Text  string
	Group Group
}

// DefaultVocabulary covers English, Portuguese and Spanish.
var DefaultVocabulary = []Term{
	{"older adults", Population},
	{"older adult", Population},
	{"older people", Population},
	{"older persons", Population},
	{"elderly", Population},
	{"seniors", Population},
	{"oldest old", Population},
	{"centenarians", Population},
	{"nursing home", Population},
	{"aged care", Population},
	{"idoso", Population},
	{"idosos", Population},
	{"idosa", Population},
	{"idosas", Population},
	{"pessoa idosa", Population},
	{"terceira idade", Population},
	{"longevos", Population},
	{"instituição de longa permanência", Population},
	{"anciano", Population},
	{"ancianos", Population},
	{"adulto mayor", Population},
	{"adultos mayores", Population},
	{"personas mayores", Population},
	{"tercera edad", Population},

	{"aging", Process},
	{"ageing", Process},
	{"senescence", Process},
	{"longevity", Process},
	{"frailty", Process},
	{"envelhecimento", Process},
	{"senescência", Process},
	{"longevidade", Process},
	{"fragilidade", Process},
	{"envejecimiento", Process},
	{"senescencia", Process},
	{"longevidad", Process},
	{"fragilidad", Process},

	{"gerontology", Field},
	{"gerontological", Field},
	{"geriatrics", Field},
	{"geriatric", Field},
	{"psychogerontology", Field},
	{"dementia", Field},
	{"alzheimer", Field},
	{"sarcopenia", Field},
	{"gerontologia", Field},
	{"gerontológico", Field},
	{"geriatria", Field},
	{"geriátrico", Field},
	{"geriátrica", Field},
	{"demência", Field},
	{"gerontología", Field},
	{"gerontológica", Field},
	{"demencia", Field},

	{"university of the third age", Institutional},
	{"universidade aberta à terceira idade", Institutional},
	{"unati", Institutional},
	{"national institute on aging", Institutional},
	{"gerontological society of america", Institutional},
	{"sociedade brasileira de geriatria e gerontologia", Institutional},
	{"sbgg", Institutional},
	{"iagg", Institutional},
}

// DefaultContextMarkers signal that a process term describes materials, food or devices.
var DefaultContextMarkers = []string{
	"polymer", "polymers", "battery", "batteries", "wine", "wines", "cheese", "steel", "concrete",
	"asphalt", "bitumen", "alloy", "alloys", "rubber", "cement", "whisky", "beef", "lithium",
	"polímero", "polímeros", "bateria", "baterias", "vinho", "vinhos", "queijo", "aço", "concreto",
	"asfalto", "borracha", "cimento", "vino", "queso", "acero", "hormigón", "batería",
}
