package memstore

import (
	"strings"
	"time"

	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// =============================================================================
// Fake CRM fixtures
// =============================================================================

// Customer is a seeded company with its primary contact.
type Customer struct {
	Company repository.Company
	Contact repository.Contact
}

// SeedCustomer stores an active Dutch company and a primary contact that
// accepts every kind of mail. The optional mutators edit the contact before
// it is stored.
func (s *Store) SeedCustomer(mutate ...func(*repository.Contact)) Customer {
	company := s.AddCompany(repository.Company{
		Name:          gofakeit.Company(),
		Country:       "NL",
		Status:        "active",
		SeasonalOptIn: true,
		CreatedAt:     s.Now(),
	})
	contact := s.SeedContact(company.ID, append([]func(*repository.Contact){
		func(c *repository.Contact) { c.IsPrimary = true },
	}, mutate...)...)
	return Customer{Company: company, Contact: contact}
}

// SeedContact stores a fake contact of companyID with every preference on.
func (s *Store) SeedContact(companyID uuid.UUID, mutate ...func(*repository.Contact)) repository.Contact {
	first, last := gofakeit.FirstName(), gofakeit.LastName()
	c := repository.Contact{
		CompanyID:                 companyID,
		FirstName:                 first,
		LastName:                  last,
		Email:                     strings.ToLower(first+"."+last+"."+gofakeit.LetterN(6)) + "@" + gofakeit.DomainName(),
		Language:                  "en",
		IsDecisionMaker:           true,
		ReceivesNotifications:     true,
		ReceivesRenewalReminders:  true,
		ReceivesPaymentReminders:  true,
		ReceivesQuarterlyUpdates:  true,
		ReceivesSeasonalGreetings: true,
		ReceivesSalesOutreach:     true,
		CreatedAt:                 s.Now(),
	}
	for _, m := range mutate {
		m(&c)
	}
	return s.AddContact(c)
}

// SeedContract stores an active contract of companyID ending on end.
func (s *Store) SeedContract(companyID uuid.UUID, end time.Time, mutate ...func(*repository.Contract)) repository.Contract {
	c := repository.Contract{
		CompanyID:         companyID,
		Number:            "C-" + gofakeit.DigitN(6),
		StartDate:         end.AddDate(-1, 0, 0),
		EndDate:           end,
		Status:            "Active",
		RenewalReminders:  true,
		MonthlyValueCents: int64(gofakeit.Number(2000, 90000)),
		Currency:          "EUR",
		ZoneCount:         int32(gofakeit.Number(1, 6)),
	}
	for _, m := range mutate {
		m(&c)
	}
	return s.AddContract(c)
}
