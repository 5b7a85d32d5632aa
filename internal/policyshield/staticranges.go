package policyshield

// StaticRange is a coarse, hard-coded CIDR range for a well-known
// offender's corporate IP space. Spec §9 treats these as a coarse add-on,
// never load-bearing: the dynamic per-domain rules added on revoke /
// enforce-block are the mechanism that must be correct. Label is populated
// at agent startup from a geoip2 lookup (internal/infra/geoenrich.go) for
// operator-facing display only.
type StaticRange struct {
	CIDR    string
	Comment string
	Label   string // filled in by geoenrich; empty until enriched
}

// StaticRanges is intentionally small and easily replaceable; current
// ownership of these blocks may have drifted, per spec §9.
var StaticRanges = []StaticRange{
	{CIDR: "157.240.0.0/16", Comment: "facebook"},
	{CIDR: "199.16.156.0/22", Comment: "twitter"},
	{CIDR: "199.59.148.0/22", Comment: "twitter"},
	{CIDR: "31.13.24.0/21", Comment: "facebook"},
	{CIDR: "69.171.250.0/24", Comment: "facebook"},
}
