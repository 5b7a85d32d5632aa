package infra

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/focusshield/shieldd/internal/policyshield"
)

const geoCacheTTL = time.Hour

type geoResult struct {
	Country string
	ASNName string
	ts      time.Time
}

// RangeEnricher labels the static CIDR ranges with country/ASN metadata for
// operator-facing display only; it never influences enforcement decisions.
// Grounded on chrismfz-cfm's enrich.Enricher, trimmed to the two fields
// (country, ASN organization) the agent logs for each range.
type RangeEnricher struct {
	mu     sync.RWMutex
	cache  map[string]geoResult
	asnDB  *geoip2.Reader
	cityDB *geoip2.Reader
}

// NewRangeEnricher opens whichever GeoLite2 databases are found under dirs.
// Missing databases are not an error: enrichment degrades to no-op.
func NewRangeEnricher(dirs ...string) *RangeEnricher {
	e := &RangeEnricher{cache: make(map[string]geoResult)}

	for _, d := range dirs {
		if e.asnDB == nil {
			p := filepath.Join(d, "GeoLite2-ASN.mmdb")
			if _, err := os.Stat(p); err == nil {
				if db, err := geoip2.Open(p); err == nil {
					e.asnDB = db
				}
			}
		}
		if e.cityDB == nil {
			p := filepath.Join(d, "GeoLite2-Country.mmdb")
			if _, err := os.Stat(p); err == nil {
				if db, err := geoip2.Open(p); err == nil {
					e.cityDB = db
				}
			}
		}
	}
	return e
}

// Enabled reports whether at least one GeoIP database was loaded.
func (e *RangeEnricher) Enabled() bool {
	return e != nil && (e.asnDB != nil || e.cityDB != nil)
}

// Describe returns a short "Country/ASN" label for the first address in
// cidr, cached for an hour per range.
func (e *RangeEnricher) Describe(cidr string) string {
	e.mu.RLock()
	if r, ok := e.cache[cidr]; ok && time.Since(r.ts) < geoCacheTTL {
		e.mu.RUnlock()
		return label(r)
	}
	e.mu.RUnlock()

	ip, _, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}

	var r geoResult
	r.ts = time.Now()
	if e.cityDB != nil {
		if rec, err := e.cityDB.Country(ip); err == nil && rec != nil {
			if name, ok := rec.Country.Names["en"]; ok {
				r.Country = name
			} else {
				r.Country = rec.Country.IsoCode
			}
		}
	}
	if e.asnDB != nil {
		if rec, err := e.asnDB.ASN(ip); err == nil && rec != nil {
			r.ASNName = rec.AutonomousSystemOrganization
		}
	}

	e.mu.Lock()
	e.cache[cidr] = r
	e.mu.Unlock()
	return label(r)
}

func label(r geoResult) string {
	switch {
	case r.Country != "" && r.ASNName != "":
		return r.Country + " / " + r.ASNName
	case r.Country != "":
		return r.Country
	case r.ASNName != "":
		return r.ASNName
	default:
		return ""
	}
}

// EnrichStaticRanges labels policyshield.StaticRanges in place with
// country/ASN metadata, for operator visibility in the agent's own log
// output; enforcement never reads Label. A no-op if no GeoLite2 database
// was found under the directories passed to NewRangeEnricher.
func EnrichStaticRanges(e *RangeEnricher, logger *zap.Logger) {
	if !e.Enabled() {
		return
	}
	for i := range policyshield.StaticRanges {
		label := e.Describe(policyshield.StaticRanges[i].CIDR)
		if label == "" {
			continue
		}
		policyshield.StaticRanges[i].Label = label
		logger.Info("enriched static range",
			zap.String("cidr", policyshield.StaticRanges[i].CIDR),
			zap.String("comment", policyshield.StaticRanges[i].Comment),
			zap.String("label", label),
		)
	}
}

// Close releases the underlying database handles.
func (e *RangeEnricher) Close() {
	if e.asnDB != nil {
		_ = e.asnDB.Close()
	}
	if e.cityDB != nil {
		_ = e.cityDB.Close()
	}
}
