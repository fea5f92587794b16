package intent

import (
	"regexp"
	"sort"
	"strings"
)

// Country is one entry of the built-in vocabulary.
type Country struct {
	Code    string
	Name    string
	Aliases []string
}

var countries = []Country{
	{"AR", "Argentina", []string{"argentine", "argentinian", "argentinean", "argentines", "argentinians"}},
	{"AU", "Australia", []string{"australian", "australians", "aussie", "aussies"}},
	{"AT", "Austria", []string{"austrian", "austrians"}},
	{"BD", "Bangladesh", []string{"bangladeshi", "bangladeshis"}},
	{"BE", "Belgium", []string{"belgian", "belgians"}},
	{"BR", "Brazil", []string{"brazilian", "brazilians", "brasil"}},
	{"CA", "Canada", []string{"canadian", "canadians"}},
	{"CL", "Chile", []string{"chilean", "chileans"}},
	{"CN", "China", []string{"chinese", "prc", "mainland china"}},
	{"CO", "Colombia", []string{"colombian", "colombians"}},
	{"CZ", "Czech Republic", []string{"czechia", "czech", "czechs"}},
	{"DK", "Denmark", []string{"danish", "danes"}},
	{"EG", "Egypt", []string{"egyptian", "egyptians"}},
	{"FI", "Finland", []string{"finnish", "finns"}},
	{"FR", "France", []string{"french"}},
	{"DE", "Germany", []string{"german", "germans", "deutschland"}},
	{"GR", "Greece", []string{"greek", "greeks"}},
	{"HK", "Hong Kong", nil},
	{"HU", "Hungary", []string{"hungarian", "hungarians"}},
	{"IN", "India", []string{"indian", "indians"}},
	{"ID", "Indonesia", []string{"indonesian", "indonesians"}},
	{"IR", "Iran", []string{"iranian", "iranians"}},
	{"IQ", "Iraq", []string{"iraqi", "iraqis"}},
	{"IE", "Ireland", []string{"irish"}},
	{"IL", "Israel", []string{"israeli", "israelis"}},
	{"IT", "Italy", []string{"italian", "italians"}},
	{"JP", "Japan", []string{"japanese"}},
	{"KE", "Kenya", []string{"kenyan", "kenyans"}},
	{"MY", "Malaysia", []string{"malaysian", "malaysians"}},
	{"MX", "Mexico", []string{"mexican", "mexicans"}},
	{"MA", "Morocco", []string{"moroccan", "moroccans"}},
	{"NL", "Netherlands", []string{"the netherlands", "holland", "dutch"}},
	{"NZ", "New Zealand", []string{"new zealander", "new zealanders"}},
	{"NG", "Nigeria", []string{"nigerian", "nigerians"}},
	{"NO", "Norway", []string{"norwegian", "norwegians"}},
	{"PK", "Pakistan", []string{"pakistani", "pakistanis"}},
	{"PE", "Peru", []string{"peruvian", "peruvians"}},
	{"PH", "Philippines", []string{"the philippines", "filipino", "filipinos", "philippine"}},
	{"PL", "Poland", []string{"polish"}},
	{"PT", "Portugal", []string{"portuguese"}},
	{"QA", "Qatar", []string{"qatari", "qataris"}},
	{"RO", "Romania", []string{"romanian", "romanians"}},
	{"RU", "Russia", []string{"russian", "russians", "russian federation"}},
	{"SA", "Saudi Arabia", []string{"saudi", "saudis", "ksa"}},
	{"SG", "Singapore", []string{"singaporean", "singaporeans"}},
	{"ZA", "South Africa", []string{"south african", "south africans"}},
	{"KR", "South Korea", []string{"korea", "korean", "koreans", "south korean", "south koreans", "republic of korea"}},
	{"ES", "Spain", []string{"spanish", "spaniards"}},
	{"SE", "Sweden", []string{"swedish", "swedes"}},
	{"CH", "Switzerland", []string{"swiss"}},
	{"TW", "Taiwan", []string{"taiwanese"}},
	{"TH", "Thailand", []string{"thai", "thais"}},
	{"TR", "Turkey", []string{"turkish", "turks", "turkiye", "türkiye"}},
	{"UA", "Ukraine", []string{"ukrainian", "ukrainians"}},
	{"AE", "United Arab Emirates", []string{"uae", "emirati", "emiratis", "emirates"}},
	{"GB", "United Kingdom", []string{"uk", "u.k.", "britain", "great britain", "british", "brits", "england"}},
	{"US", "United States", []string{"usa", "u.s.", "u.s.a.", "united states of america", "america", "american", "americans"}},
	{"VE", "Venezuela", []string{"venezuelan", "venezuelans"}},
	{"VN", "Vietnam", []string{"viet nam", "vietnamese"}},
}

// upperOnly lists codes recognized only when written in capitals. Codes that
// double as common English words are left out.
var upperOnly = []string{"US", "USA", "UK", "UAE", "PRC", "FR", "DE", "ES", "GB", "JP", "CN", "BR", "MX", "CA", "AU", "RU", "KR", "ZA", "NL", "PL", "SE", "CH", "TR", "AR"}

// regionTokens name areas wider than one country. A country alias found
// inside a longer region token ("america" in "latin america") is not a
// country mention.
var regionTokens = []string{
	"europe", "european", "europeans", "eurozone", "asia", "asian", "africa", "african",
	"latin america", "latin american", "south america", "south american",
	"north america", "north american", "central america", "central american",
	"the americas", "middle east",
	"oceania", "scandinavia", "nordic", "balkans", "region", "regional",
	"regions", "continent", "continental", "g7", "g20",
}

var (
	byCode      map[string]Country
	byAlias     map[string]string
	aliasRe     *regexp.Regexp
	upperCodeRe *regexp.Regexp
	regionRe    *regexp.Regexp
)

func init() {
	byCode = make(map[string]Country, len(countries))
	byAlias = make(map[string]string)
	for _, c := range countries {
		byCode[c.Code] = c
		byAlias[strings.ToLower(c.Name)] = c.Code
		for _, a := range c.Aliases {
			byAlias[strings.ToLower(a)] = c.Code
		}
	}
	byAlias["usa"] = "US"

	aliases := make([]string, 0, len(byAlias))
	for a := range byAlias {
		aliases = append(aliases, a)
	}
	aliasRe = regexp.MustCompile(`(?i)` + alternation(aliases))
	upperCodeRe = regexp.MustCompile(alternation(upperOnly))
	regionRe = regexp.MustCompile(`(?i)` + alternation(regionTokens))
}

// alternation builds a word-bounded alternation, longest terms first so that
// "south korea" wins over "korea".
func alternation(terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		p := regexp.QuoteMeta(t)
		if isWordByte(t[0]) {
			p = `\b` + p
		}
		if isWordByte(t[len(t)-1]) {
			p += `\b`
		}
		parts[i] = p
	}
	return "(?:" + strings.Join(parts, "|") + ")"
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// LookupCountry resolves a name, alias or ISO code.
func LookupCountry(s string) (Country, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if code, ok := byAlias[key]; ok {
		return byCode[code], true
	}
	if c, ok := byCode[strings.ToUpper(key)]; ok {
		return c, true
	}
	return Country{}, false
}

// CountryName returns the canonical name for code, or code itself when it
// is not in the vocabulary.
func CountryName(code string) string {
	if c, ok := byCode[code]; ok {
		return c.Name
	}
	return code
}

// IsCountryCode reports whether code is a vocabulary code.
func IsCountryCode(code string) bool {
	_, ok := byCode[code]
	return ok
}

type span struct {
	start, end int
	code       string
}

// findCountries returns the codes mentioned in text in first-mention order,
// plus the byte spans they occupy.
func findCountries(text string) ([]string, []span) {
	regions := regionRe.FindAllStringIndex(text, -1)
	var found []span
	for _, loc := range aliasRe.FindAllStringIndex(text, -1) {
		if withinRegion(regions, loc) {
			continue
		}
		alias := strings.ToLower(text[loc[0]:loc[1]])
		found = append(found, span{loc[0], loc[1], byAlias[alias]})
	}
	for _, loc := range upperCodeRe.FindAllStringIndex(text, -1) {
		if overlaps(found, loc[0], loc[1]) {
			continue
		}
		code := text[loc[0]:loc[1]]
		if c, ok := LookupCountry(code); ok {
			found = append(found, span{loc[0], loc[1], c.Code})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })

	seen := make(map[string]bool, len(found))
	codes := make([]string, 0, len(found))
	for _, f := range found {
		if f.code == "" || seen[f.code] {
			continue
		}
		seen[f.code] = true
		codes = append(codes, f.code)
	}
	return codes, found
}

func withinRegion(regions [][]int, loc []int) bool {
	for _, r := range regions {
		if r[0] <= loc[0] && loc[1] <= r[1] && r[1]-r[0] > loc[1]-loc[0] {
			return true
		}
	}
	return false
}

func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}

// mentionsRegion reports whether text names a region or continent outside of
// any country name ("South Africa" is not a mention of Africa).
func mentionsRegion(text string, countrySpans []span) bool {
	for _, loc := range regionRe.FindAllStringIndex(text, -1) {
		if !overlaps(countrySpans, loc[0], loc[1]) {
			return true
		}
	}
	return false
}
