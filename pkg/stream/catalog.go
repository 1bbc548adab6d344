package stream

// Stream names.
const (
	User                = "user"
	Form                = "form"
	Referral            = "referral"
	Opportunity         = "opportunity"
	OpportunityTimeline = "opportunity_timeline"
	Census              = "census"
)

// CatalogOptions feeds the statically partitioned streams.
type CatalogOptions struct {
	ReferralStatuses []string
	CensusStatuses   []string
}

// DefaultCensusStatuses are the census partitions.
var DefaultCensusStatuses = []string{"active", "admitted", "discharged"}

// DefaultReferralStatuses are the referral partitions used when none are configured.
var DefaultReferralStatuses = []string{"open", "closed"}

// Catalog returns the Sunwave stream definitions.
func Catalog(opts CatalogOptions) []*Definition {
	referral := opts.ReferralStatuses
	if len(referral) == 0 {
		referral = DefaultReferralStatuses
	}
	census := opts.CensusStatuses
	if len(census) == 0 {
		census = DefaultCensusStatuses
	}

	return []*Definition{
		{
			Name:         User,
			PathTemplate: "/api/users",
			PrimaryKeys:  []string{"id"},
			SchemaRef:    "User",
			PostProcess:  NormalizeField("created_on"),
		},
		{
			Name:         Form,
			PathTemplate: "/api/forms",
			PrimaryKeys:  []string{"id"},
			SchemaRef:    "Form",
		},
		{
			Name:         Referral,
			PathTemplate: "/api/referrals/status/{status}",
			PrimaryKeys:  []string{"id"},
			Partitions:   partitions("status", referral),
			SchemaRef:    "Referral",
			PostProcess:  NormalizeField("created_on"),
		},
		{
			Name:           Opportunity,
			PathTemplate:   "/api/opportunities/createdon/from/{start}/until/{end}",
			PrimaryKeys:    []string{"opportunity_id"},
			ReplicationKey: "created_on",
			ChildKeys:      []string{"opportunity_id"},
			Window:         WindowBookmark,
			SchemaRef:      "Opportunity",
			PostProcess:    NormalizeField("created_on"),
		},
		{
			Name:           OpportunityTimeline,
			PathTemplate:   "/api/opportunities/{opportunity_id}/timeline",
			PrimaryKeys:    []string{"id"},
			ReplicationKey: "created_on",
			Parent:         Opportunity,
			SchemaRef:      "OpportunityTimeline",
			PostProcess:    NormalizeField("created_on"),
		},
		{
			Name:         Census,
			PathTemplate: "/api/census/{census_status}/from/{start}/until/{end}",
			PrimaryKeys:  []string{"Account Id"},
			Partitions:   partitions("census_status", census),
			Window:       WindowStartDate,
			SchemaRef:    "Census",
		},
	}
}

func partitions(key string, values []string) []Context {
	out := make([]Context, 0, len(values))
	for _, v := range values {
		out = append(out, Context{key: v})
	}
	return out
}
