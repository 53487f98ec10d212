package posting

import (
	"crypto/sha256"
	"net/url"
	"sort"
	"strings"
	"unicode"
)

var stopTokens = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
}

// Season and posting filler never distinguishes two openings.
var titleFiller = map[string]struct{}{
	"summer": {}, "fall": {}, "winter": {}, "spring": {}, "autumn": {},
	"2023": {}, "2024": {}, "2025": {}, "2026": {}, "2027": {}, "2028": {},
	"position": {}, "opportunity": {}, "opening": {}, "job": {}, "program": {},
	"paid": {}, "new": {},
}

var titleSynonyms = map[string][]string{
	"internship": {"intern"},
	"interns":    {"intern"},
	"swe":        {"software", "engineer"},
	"sde":        {"software", "developer"},
	"dev":        {"developer"},
	"eng":        {"engineer"},
	"ml":         {"machine", "learning"},
	"ai":         {"artificial", "intelligence"},
	"ux":         {"user", "experience"},
	"coop":       {"intern"},
}

var companySuffixes = map[string]struct{}{
	"inc": {}, "incorporated": {}, "corp": {}, "corporation": {}, "llc": {}, "ltd": {},
	"limited": {}, "co": {}, "company": {}, "plc": {}, "gmbh": {}, "group": {}, "holdings": {},
}

var locationFiller = map[string]struct{}{
	"usa": {}, "us": {}, "united": {}, "states": {}, "america": {},
	"remote": {}, "hybrid": {}, "onsite": {}, "area": {}, "greater": {}, "metro": {},
	"metropolitan": {},
}

var remoteMarkers = []string{"remote", "work from home", "wfh", "anywhere", "distributed"}

var trackingQueryKeys = map[string]struct{}{
	"fbclid":     {},
	"gclid":      {},
	"mc_cid":     {},
	"mc_eid":     {},
	"ref":        {},
	"ref_src":    {},
	"refid":      {},
	"trk":        {},
	"trackingid": {},
}

// Vocabulary carries the alias tables used during normalization.
type Vocabulary struct {
	// CompanyAliases maps a normalized company name to its canonical key.
	CompanyAliases map[string]string `yaml:"company_aliases"`
	// Metros maps a canonical metro key to the spellings that denote it.
	Metros map[string][]string `yaml:"metros"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		CompanyAliases: map[string]string{
			"alphabet":            "google",
			"meta platforms":      "meta",
			"facebook":            "meta",
			"amazon com":          "amazon",
			"amazon web services": "amazon",
			"aws":                 "amazon",
			"jp morgan":           "jpmorgan chase",
			"jpmorgan":            "jpmorgan chase",
			"j p morgan":          "jpmorgan chase",
		},

		Metros: map[string][]string{
			"new york":      {"nyc", "new york city", "new york", "new york ny", "manhattan", "brooklyn", "queens", "ny"},
			"san francisco": {"sf", "san francisco", "san francisco ca", "bay area", "sf bay", "oakland", "palo alto", "menlo park", "mountain view", "sunnyvale", "san jose", "redwood city"},
			"seattle":       {"seattle", "seattle wa", "bellevue", "redmond", "kirkland"},
			"los angeles":   {"la", "los angeles", "los angeles ca", "santa monica", "culver city"},
			"boston":        {"boston", "boston ma", "cambridge ma", "somerville"},
			"chicago":       {"chicago", "chicago il", "chi"},
			"austin":        {"austin", "austin tx", "round rock"},
			"washington dc": {"dc", "washington dc", "washington d c", "arlington va", "dmv"},
			"london":        {"london", "london uk", "greater london"},
		},
	}
}

// Normalizer turns raw field values into their comparable form.
type Normalizer struct {
	companyAliases map[string]string
	metroVariants  map[string]string
}

func NewNormalizer(vocab Vocabulary) *Normalizer {
	n := &Normalizer{
		companyAliases: make(map[string]string, len(vocab.CompanyAliases)),
		metroVariants:  make(map[string]string),
	}
	for alias, canonical := range vocab.CompanyAliases {
		n.companyAliases[squash(alias)] = squash(canonical)
	}
	for metro, variants := range vocab.Metros {
		key := squash(metro)
		n.metroVariants[key] = key
		for _, variant := range variants {
			n.metroVariants[squash(variant)] = key
		}
	}
	return n
}

// Normalize derives the comparable form of a raw posting. Missing fields become
// empty strings; it never fails.
func (n *Normalizer) Normalize(raw RawPosting) Normalized {
	title := FoldText(raw.Title)
	canonicalURL := NormalizeURL(raw.URL)

	out := Normalized{
		Title:       strings.TrimSpace(raw.Title),
		TitleTokens: n.TitleTokens(title),
		Company:     strings.TrimSpace(raw.Company),
		CompanyKey:  n.CompanyKey(raw.Company),
		Location:    strings.TrimSpace(raw.Location),
		MetroKey:    n.MetroKey(raw.Location),
		Description: strings.TrimSpace(raw.Description),
		JobType:     normalizeJobType(raw.JobType),
		Salary:      ParseSalary(raw.SalaryText),
		Remote:      detectRemote(raw),
		URL:         canonicalURL,
		URLHash:     hashOrNil(canonicalURL),
		PostedAt:    raw.PostedAt,
	}
	return out
}

// TitleTokens returns the sorted, de-duplicated comparable tokens of a title.
func (n *Normalizer) TitleTokens(title string) []string {
	words := Tokenize(title)
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		expanded, ok := titleSynonyms[word]
		if !ok {
			expanded = []string{word}
		}
		for _, token := range expanded {
			token = Stem(token)
			if _, filler := titleFiller[token]; filler {
				continue
			}
			set[token] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// CompanyKey strips legal suffixes and resolves known aliases.
func (n *Normalizer) CompanyKey(company string) string {
	words := Tokenize(company)
	kept := make([]string, 0, len(words))
	for _, word := range words {
		if _, suffix := companySuffixes[word]; suffix {
			continue
		}
		kept = append(kept, word)
	}
	if len(kept) == 0 {
		kept = words
	}
	key := strings.Join(kept, " ")
	if canonical, ok := n.companyAliases[key]; ok {
		return canonical
	}
	if canonical, ok := n.companyAliases[strings.Join(words, " ")]; ok {
		return canonical
	}
	return key
}

// MetroKey resolves a free-form location to a metro key. Unknown places fall
// back to their first comma-separated component.
func (n *Normalizer) MetroKey(location string) string {
	folded := FoldText(location)
	if folded == "" {
		return ""
	}

	attempts := []string{squash(folded)}
	if head, _, found := strings.Cut(folded, ","); found {
		attempts = append(attempts, squash(head))
	}
	attempts = append(attempts, stripLocationFiller(folded))

	for _, attempt := range attempts {
		if attempt == "" {
			continue
		}
		if metro, ok := n.metroVariants[attempt]; ok {
			return metro
		}
	}

	for _, attempt := range attempts[1:] {
		if attempt != "" {
			return attempt
		}
	}
	return attempts[0]
}

func stripLocationFiller(folded string) string {
	head, _, _ := strings.Cut(folded, ",")
	words := Tokenize(head)
	kept := make([]string, 0, len(words))
	for _, word := range words {
		if _, filler := locationFiller[word]; filler {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// FoldText lower-cases and collapses whitespace runs, dropping control runes.
func FoldText(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits folded text on anything that is not a letter or digit and
// drops stop tokens.
func Tokenize(text string) []string {
	normalized := FoldText(text)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if _, stop := stopTokens[p]; stop {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// Stem removes the few English suffixes that split otherwise identical titles
// ("engineering" / "engineer", "systems" / "system").
func Stem(token string) string {
	switch {
	case len(token) > 5 && strings.HasSuffix(token, "ing"):
		return token[:len(token)-3]
	case len(token) > 4 && strings.HasSuffix(token, "ies"):
		return token[:len(token)-3] + "y"
	case len(token) > 3 && strings.HasSuffix(token, "s") && !strings.HasSuffix(token, "ss"):
		return token[:len(token)-1]
	default:
		return token
	}
}

func squash(text string) string {
	return strings.Join(Tokenize(text), " ")
}

func normalizeJobType(raw string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.NewReplacer("-", "_", " ", "_").Replace(value)
	if value == "" {
		return JobTypeUnknown
	}
	return value
}

func detectRemote(raw RawPosting) *bool {
	if raw.RemoteHint != nil {
		v := *raw.RemoteHint
		return &v
	}
	haystack := FoldText(raw.Location + " " + raw.Title)
	if haystack == "" {
		return nil
	}
	for _, marker := range remoteMarkers {
		if strings.Contains(haystack, marker) {
			v := true
			return &v
		}
	}
	return nil
}

// NormalizeURL canonicalizes a posting URL: lower-case scheme and host, no
// default port, fragment or tracking parameters, sorted query.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}
	parsed.Host = host

	parsed.Fragment = ""
	path := strings.TrimSpace(parsed.EscapedPath())
	if path == "" {
		path = "/"
	}
	path = strings.ReplaceAll(path, "//", "/")
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	// path is still escaped; keep it as RawPath so String() does not escape it again.
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return ""
	}
	parsed.Path = unescaped
	parsed.RawPath = path

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	parsed.RawQuery = q.Encode()

	return parsed.String()
}

func hashOrNil(value string) []byte {
	if value == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(value))
	return sum[:]
}
