package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

type columnKind int

const (
	columnIgnored columnKind = iota
	columnSpecialty
	columnProviderType
	columnRegion
	columnOrganizations
	columnIncumbents
	columnMetric
	columnMetricOrganizations
	columnMetricIncumbents
)

type column struct {
	kind       columnKind
	metric     string
	percentile Percentile
}

var separators = regexp.MustCompile(`[\s\-./]+`)
var repeated = regexp.MustCompile(`_+`)

var identityColumns = map[string]columnKind{
	"specialty":         columnSpecialty,
	"spec":              columnSpecialty,
	"specialty_name":    columnSpecialty,
	"provider_type":     columnProviderType,
	"provider":          columnProviderType,
	"prov_type":         columnProviderType,
	"provider_category": columnProviderType,
	"region":            columnRegion,
	"geographic_region": columnRegion,
	"geo_region":        columnRegion,
	"geography":         columnRegion,
	"n_orgs":            columnOrganizations,
	"orgs":              columnOrganizations,
	"num_orgs":          columnOrganizations,
	"organizations":     columnOrganizations,
	"n_organizations":   columnOrganizations,
	"n_incumbents":      columnIncumbents,
	"incumbents":        columnIncumbents,
	"num_incumbents":    columnIncumbents,
	"n_incs":            columnIncumbents,
	"n_providers":       columnIncumbents,
}

var sampleSuffixes = map[string]columnKind{
	"_n_orgs":         columnMetricOrganizations,
	"_num_orgs":       columnMetricOrganizations,
	"_n_incumbents":   columnMetricIncumbents,
	"_num_incumbents": columnMetricIncumbents,
	"_n_incs":         columnMetricIncumbents,
}

var metricPatterns = []struct {
	re           *regexp.Regexp
	metric, rank int
}{
	{regexp.MustCompile(`^(.+)_p(\d{2})$`), 1, 2},
	{regexp.MustCompile(`^(.+)_(\d{2})th(?:_percentile|_pctl)?$`), 1, 2},
	{regexp.MustCompile(`^(.+)_percentile_(\d{2})$`), 1, 2},
	{regexp.MustCompile(`^p(\d{2})_(.+)$`), 2, 1},
}

// metricAliases maps alternate metric spellings to a canonical variable name.
var metricAliases = map[string]string{
	"total_cash_compensation": "tcc",
	"total_cash_comp":         "tcc",
	"total_compensation":      "tcc",
	"total_comp":              "tcc",
	"tcc":                     "tcc",
	"base_salary":             "base_salary",
	"base":                    "base_salary",
	"salary":                  "base_salary",
	"wrvus":                   "wrvus",
	"wrvu":                    "wrvus",
	"work_rvus":               "wrvus",
	"work_rvu":                "wrvus",
	"tcc_per_wrvu":            "tcc_per_wrvu",
	"comp_per_wrvu":           "tcc_per_wrvu",
	"compensation_per_wrvu":   "tcc_per_wrvu",
	"tcc_per_work_rvu":        "tcc_per_wrvu",
	"collections":             "net_collections",
	"net_collections":         "net_collections",
	"incentive":               "incentive_pay",
	"incentive_pay":           "incentive_pay",
	"bonus":                   "incentive_pay",
}

// canonicalColumn folds a column name to lower case with spaces, hyphens,
// dots, and slashes turned into single underscores.
func canonicalColumn(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = separators.ReplaceAllString(s, "_")
	s = repeated.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func classify(name string) column {
	c := canonicalColumn(name)
	if c == "" {
		return column{}
	}

	if kind, ok := identityColumns[c]; ok {
		return column{kind: kind}
	}

	for suffix, kind := range sampleSuffixes {
		if metric, ok := strings.CutSuffix(c, suffix); ok && metric != "" {
			return column{kind: kind, metric: metric}
		}
	}

	if metric, ok := strings.CutSuffix(c, "_median"); ok && metric != "" {
		return column{kind: columnMetric, metric: metric, percentile: P50}
	}

	for _, p := range metricPatterns {
		m := p.re.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		rank, err := strconv.Atoi(m[p.rank])
		if err != nil || !Percentile(rank).Valid() {
			return column{}
		}
		return column{kind: columnMetric, metric: m[p.metric], percentile: Percentile(rank)}
	}

	return column{}
}

// canonicalMetric returns the built-in name for a metric and whether it is known.
func canonicalMetric(metric string) (string, bool) {
	name, ok := metricAliases[metric]
	return name, ok
}
