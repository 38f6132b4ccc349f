package template

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Faker generates realistic-looking sample data from the engine's
// seeded stream. Each method consumes draws in a fixed order, so the
// sequence of calls fully determines the output.
type Faker struct {
	rng *rng
	now time.Time
}

func newFaker(r *rng, now time.Time) *Faker {
	return &Faker{rng: r, now: now}
}

// NewFaker builds a standalone faker over a fresh seeded stream. The
// schema generator uses this to share the template package's
// randomness without owning an engine.
func NewFaker(seed uint32, now time.Time) *Faker {
	return newFaker(newRNG(seed), now)
}

// Float64 exposes a raw draw in [0, 1) from the underlying stream.
func (f *Faker) Float64() float64 { return f.rng.float64() }

// IntRange exposes a raw integer draw in [lo, hi] inclusive.
func (f *Faker) IntRange(lo, hi int) int { return f.rng.intRange(lo, hi) }

func (f *Faker) FirstName() string { return pick(f.rng, fakerGivenNames) }
func (f *Faker) LastName() string  { return pick(f.rng, fakerSurnames) }

func (f *Faker) FullName() string {
	return f.FirstName() + " " + f.LastName()
}

func (f *Faker) Email() string {
	user := strings.ToLower(f.FirstName())
	return fmt.Sprintf("%s%d@%s", user, f.rng.intRange(1, 999), pick(f.rng, fakerEmailDomains))
}

func (f *Faker) Username() string {
	return strings.ToLower(f.FirstName()) + "_" + strings.ToLower(f.LastName())
}

func (f *Faker) URL() string {
	return fmt.Sprintf("https://%s/%s", pick(f.rng, fakerURLHosts), pick(f.rng, fakerURLPaths))
}

func (f *Faker) City() string    { return pick(f.rng, fakerCities) }
func (f *Faker) Country() string { return pick(f.rng, fakerCountries) }

func (f *Faker) PostalCode() string {
	return fmt.Sprintf("%05d", f.rng.intRange(0, 99999))
}

func (f *Faker) Street() string {
	return fmt.Sprintf("%d %s", f.rng.intRange(1, 9999), pick(f.rng, fakerStreetNames))
}

func (f *Faker) Company() string {
	return pick(f.rng, fakerCompanyStems) + " " + pick(f.rng, fakerCompanySuffixes)
}

func (f *Faker) ProductName() string {
	return pick(f.rng, fakerProductAdjectives) + " " +
		pick(f.rng, fakerProductMaterials) + " " +
		pick(f.rng, fakerProductNouns)
}

// Price returns a two-decimal amount in [1.00, 999.99].
func (f *Faker) Price() float64 {
	cents := f.rng.intRange(100, 99999)
	return math.Round(float64(cents)) / 100
}

func (f *Faker) Number(lo, hi int) int { return f.rng.intRange(lo, hi) }

func (f *Faker) Boolean() bool { return f.rng.next()%2 == 0 }

func (f *Faker) UUID() string { return f.rng.uuidV4() }

// RecentDate returns an instant up to 30 days before the request time.
func (f *Faker) RecentDate() string {
	back := time.Duration(f.rng.intRange(1, 30*24*3600)) * time.Second
	return f.now.Add(-back).UTC().Format(time.RFC3339)
}

// FutureDate returns an instant up to 30 days after the request time.
func (f *Faker) FutureDate() string {
	ahead := time.Duration(f.rng.intRange(1, 30*24*3600)) * time.Second
	return f.now.Add(ahead).UTC().Format(time.RFC3339)
}

// env exposes the generator surface to expressions as faker.<name>().
func (f *Faker) env() map[string]any {
	return map[string]any{
		"firstName":   f.FirstName,
		"lastName":    f.LastName,
		"fullName":    f.FullName,
		"email":       f.Email,
		"username":    f.Username,
		"url":         f.URL,
		"city":        f.City,
		"country":     f.Country,
		"postalCode":  f.PostalCode,
		"street":      f.Street,
		"company":     f.Company,
		"productName": f.ProductName,
		"price":       f.Price,
		"number":      f.Number,
		"boolean":     f.Boolean,
		"uuid":        f.UUID,
		"recentDate":  f.RecentDate,
		"futureDate":  f.FutureDate,
	}
}

// Generate dispatches a dotted faker path like "faker.email" or
// "email". Used by schema generation for x-sandbox.faker hints.
func (f *Faker) Generate(path string) (any, bool) {
	name := strings.TrimPrefix(path, "faker.")
	switch name {
	case "firstName":
		return f.FirstName(), true
	case "lastName":
		return f.LastName(), true
	case "fullName", "name":
		return f.FullName(), true
	case "email":
		return f.Email(), true
	case "username":
		return f.Username(), true
	case "url":
		return f.URL(), true
	case "city":
		return f.City(), true
	case "country":
		return f.Country(), true
	case "postalCode":
		return f.PostalCode(), true
	case "street":
		return f.Street(), true
	case "company":
		return f.Company(), true
	case "productName":
		return f.ProductName(), true
	case "price":
		return f.Price(), true
	case "number":
		return f.Number(0, 1000), true
	case "boolean":
		return f.Boolean(), true
	case "uuid":
		return f.UUID(), true
	case "recentDate":
		return f.RecentDate(), true
	case "futureDate":
		return f.FutureDate(), true
	default:
		return nil, false
	}
}
