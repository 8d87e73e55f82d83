package geo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider reads a local GeoLite2/GeoIP2 City database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

func NewMaxMindProvider(path string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open maxmind database %s: %w", path, err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("invalid ip %q", ip)
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return Location{}, fmt.Errorf("maxmind lookup: %w", err)
	}

	country := record.Country.Names["en"]
	if country == "" {
		country = record.Country.IsoCode
	}
	if country == "" {
		return Location{}, errors.New("maxmind lookup: no country for address")
	}
	return NewLocation(country, record.City.Names["en"]), nil
}

func (p *MaxMindProvider) Close() error {
	return p.reader.Close()
}
