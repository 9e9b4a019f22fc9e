package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"propsync/internal/config"
	"propsync/internal/database"
	"propsync/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Fixtures is the seed file layout. Listings refer to agencies by name and
// to terms by taxonomy and name.
type Fixtures struct {
	Agencies []models.Agency  `yaml:"agencies"`
	Terms    []models.Term    `yaml:"terms"`
	Listings []ListingFixture `yaml:"listings"`
	Users    []models.User    `yaml:"users"`
}

type ListingFixture struct {
	models.Listing `yaml:",inline"`
	Agency         string            `yaml:"agency"`
	Terms          map[string]string `yaml:"terms"`
}

type counts struct {
	created, updated int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		fixturesPath = flag.String("fixtures", "configs/seed.yaml", "path to seed fixtures")
		dbPath       = flag.String("db", "./data/propsync.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*fixturesPath)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fx Fixtures
	if err = yaml.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}

	db, err := database.NewDB(config.DatabaseConfig{Driver: "sqlite3", Path: *dbPath}, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agencies, err := seedAgencies(ctx, db, fx.Agencies)
	if err != nil {
		return err
	}
	terms, err := seedTerms(ctx, db, fx.Terms)
	if err != nil {
		return err
	}
	listings, err := seedListings(ctx, db, fx.Listings)
	if err != nil {
		return err
	}
	users, err := seedUsers(ctx, db, fx.Users)
	if err != nil {
		return err
	}

	fmt.Printf("agencies: created=%d updated=%d\n", agencies.created, agencies.updated)
	fmt.Printf("terms: created=%d updated=%d\n", terms.created, terms.updated)
	fmt.Printf("listings: created=%d updated=%d\n", listings.created, listings.updated)
	fmt.Printf("users: created=%d updated=%d\n", users.created, users.updated)
	return nil
}

func seedAgencies(ctx context.Context, db *database.DB, agencies []models.Agency) (counts, error) {
	var c counts
	for i := range agencies {
		a := agencies[i]
		if a.Name == "" {
			continue
		}
		existing, err := db.FindAgencyByName(ctx, a.Name)
		if err != nil {
			return c, fmt.Errorf("get agency %s: %w", a.Name, err)
		}
		if existing != nil {
			a.ID = existing.ID
			if err := db.UpdateAgency(ctx, &a); err != nil {
				return c, fmt.Errorf("update agency %s: %w", a.Name, err)
			}
			c.updated++
			continue
		}
		if err := db.CreateAgency(ctx, &a); err != nil {
			return c, fmt.Errorf("create agency %s: %w", a.Name, err)
		}
		c.created++
	}
	return c, nil
}

func seedTerms(ctx context.Context, db *database.DB, terms []models.Term) (counts, error) {
	var c counts
	for i := range terms {
		t := terms[i]
		if t.Taxonomy == "" || t.Name == "" {
			continue
		}
		existing, err := db.FindTermByName(ctx, t.Taxonomy, t.Name)
		if err != nil {
			return c, fmt.Errorf("get term %s/%s: %w", t.Taxonomy, t.Name, err)
		}
		if existing != nil {
			t.ID = existing.ID
			if err := db.UpdateTerm(ctx, &t); err != nil {
				return c, fmt.Errorf("update term %s/%s: %w", t.Taxonomy, t.Name, err)
			}
			c.updated++
			continue
		}
		if err := db.CreateTerm(ctx, &t); err != nil {
			return c, fmt.Errorf("create term %s/%s: %w", t.Taxonomy, t.Name, err)
		}
		c.created++
	}
	return c, nil
}

func seedListings(ctx context.Context, db *database.DB, listings []ListingFixture) (counts, error) {
	var c counts
	for i := range listings {
		fx := listings[i]
		l := fx.Listing
		if l.Reference == "" {
			continue
		}

		if fx.Agency != "" {
			agency, err := db.FindAgencyByName(ctx, fx.Agency)
			if err != nil {
				return c, fmt.Errorf("get agency %s: %w", fx.Agency, err)
			}
			if agency == nil {
				return c, fmt.Errorf("listing %s: unknown agency %q", l.Reference, fx.Agency)
			}
			l.AgencyID = agency.ID
		}

		existing, err := db.FindListingByReference(ctx, l.Reference)
		if err != nil {
			return c, fmt.Errorf("get listing %s: %w", l.Reference, err)
		}
		if existing != nil {
			l.ID = existing.ID
			if err := db.UpdateListing(ctx, &l); err != nil {
				return c, fmt.Errorf("update listing %s: %w", l.Reference, err)
			}
			c.updated++
		} else {
			if err := db.CreateListing(ctx, &l); err != nil {
				return c, fmt.Errorf("create listing %s: %w", l.Reference, err)
			}
			c.created++
		}

		for taxonomy, name := range fx.Terms {
			term, err := db.FindTermByName(ctx, taxonomy, name)
			if err != nil {
				return c, fmt.Errorf("get term %s/%s: %w", taxonomy, name, err)
			}
			if term == nil {
				return c, fmt.Errorf("listing %s: unknown term %s/%s", l.Reference, taxonomy, name)
			}
			if err := db.SetListingTerm(ctx, l.ID, taxonomy, term.ID); err != nil {
				return c, err
			}
		}
	}
	return c, nil
}

func seedUsers(ctx context.Context, db *database.DB, users []models.User) (counts, error) {
	var c counts
	for i := range users {
		u := users[i]
		if u.Email == "" {
			continue
		}
		existing, err := db.FindUserByEmail(ctx, u.Email)
		if err != nil {
			return c, fmt.Errorf("get user %s: %w", u.Email, err)
		}
		if existing != nil {
			u.ID = existing.ID
			if err := db.UpdateUser(ctx, &u); err != nil {
				return c, fmt.Errorf("update user %s: %w", u.Email, err)
			}
			c.updated++
			continue
		}
		if err := db.CreateUser(ctx, &u); err != nil {
			return c, fmt.Errorf("create user %s: %w", u.Email, err)
		}
		c.created++
	}
	return c, nil
}
