package leads

import (
	"strings"

	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// ICP is an ideal customer profile.
type ICP struct {
	Industries    []string `json:"industries"`
	CompanySizes  []string `json:"company_sizes"`
	RevenueRanges []string `json:"revenue_ranges"`
	Geos          []string `json:"geos"`
	JobTitles     []string `json:"job_titles"`
	PainPoints    []string `json:"pain_points"`
	Triggers      []string `json:"triggers"`
	Exclusions    []string `json:"exclusions"`
	ValueProps    []string `json:"value_props"`
}

var titlesByIndustry = map[string][]string{
	"restaurant":    {"Owner", "General Manager", "Operations Manager"},
	"healthcare":    {"Practice Manager", "Office Manager", "Administrator"},
	"real-estate":   {"Broker", "Team Lead", "Managing Partner"},
	"retail":        {"Store Manager", "Operations Director", "Owner"},
	"hospitality":   {"General Manager", "Front Office Manager", "Owner"},
	"legal":         {"Managing Partner", "Office Manager", "Practice Administrator"},
	"automotive":    {"Service Manager", "General Manager", "Owner"},
	"home-services": {"Owner", "Operations Manager", "Dispatcher"},
}

var painsByIndustry = map[string][]string{
	"restaurant":  {"Missed reservations", "Phone calls during rush", "Staff shortage"},
	"healthcare":  {"Appointment no-shows", "Phone tag", "Front desk costs"},
	"real-estate": {"Lead response time", "Showing coordination", "After-hours calls"},
	"retail":      {"Customer service availability", "Order tracking", "Returns processing"},
}

var (
	defaultTitles        = []string{"CEO", "COO", "Operations Manager"}
	defaultPains         = []string{"Manual processes", "Missed opportunities", "High costs"}
	defaultSizes         = []string{"10-50", "50-200", "200-1000"}
	defaultRevenueRanges = []string{"$1M-$10M", "$10M-$50M", "$50M+"}
	defaultExclusions    = []string{"competitors", "not_a_fit"}
	defaultTriggers      = []string{
		"Hiring challenges",
		"Growth phase",
		"Customer complaints",
		"Competitor pressure",
		"New location opening",
	}
	defaultValueProps = []string{
		"24/7 availability without hiring",
		"Never miss a customer again",
		"Reduce operational costs by 70%",
		"Improve customer satisfaction",
		"Scale without adding headcount",
	}
)

// DefineICP builds a profile for one industry and geo. An empty size
// selects the default size bands.
func DefineICP(industry, geo, size string) ICP {
	key := strings.ToLower(strings.TrimSpace(industry))
	titles, ok := titlesByIndustry[key]
	if !ok {
		titles = defaultTitles
	}
	pains, ok := painsByIndustry[key]
	if !ok {
		pains = defaultPains
	}
	sizes := defaultSizes
	if size != "" {
		sizes = []string{size}
	}
	return ICP{
		Industries:    []string{key},
		CompanySizes:  clone(sizes),
		RevenueRanges: clone(defaultRevenueRanges),
		Geos:          []string{policy.CountryCode(geo)},
		JobTitles:     clone(titles),
		PainPoints:    clone(pains),
		Triggers:      clone(defaultTriggers),
		Exclusions:    clone(defaultExclusions),
		ValueProps:    clone(defaultValueProps),
	}
}

// MatchesIndustry reports whether the industry is targeted.
func (i ICP) MatchesIndustry(industry string) bool {
	return containsFold(i.Industries, industry)
}

// MatchesGeo reports whether a lead country falls in a targeted geo.
func (i ICP) MatchesGeo(country string) bool {
	for _, g := range i.Geos {
		if policy.Covers(g, country) {
			return true
		}
	}
	return false
}

// Excludes returns the exclusion tag a lead matches, or "". Exclusions
// match signal types and values.
func (i ICP) Excludes(l *LeadCard) string {
	for _, ex := range i.Exclusions {
		for _, s := range l.Signals {
			if strings.EqualFold(s.Type, ex) || strings.EqualFold(s.Value, ex) {
				return ex
			}
		}
	}
	return ""
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
